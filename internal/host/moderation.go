package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/provider"
)

// Sting states.
const (
	StingActive  = "active"
	StingVoided  = "voided"
	StingHandled = "handled"
)

// StingPageSize is the number of stings per List page.
const StingPageSize = 20

var (
	ErrLockdownNotFound = errors.New("lockdown not found")
	ErrStingNotFound    = errors.New("sting not found")
)

// moderation holds a tenant's lockdowns and stings in creation order.
type moderation struct {
	mu        sync.Mutex
	lockdowns []provider.Lockdown
	stings    []provider.Sting
}

func newModeration() *moderation {
	return &moderation{}
}

func (m *moderation) sting(id uuid.UUID) int {
	return slices.IndexFunc(m.stings, func(s provider.Sting) bool { return s.ID == id })
}

// Lockdowns serves a tenant's lockdowns.
type Lockdowns struct {
	limits
	m *moderation
}

// List returns active lockdowns, oldest first.
func (l *Lockdowns) List(context.Context) ([]provider.Lockdown, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return slices.Clone(l.m.lockdowns), nil
}

func (l *Lockdowns) start(typ, target, reason string) (uuid.UUID, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	for _, ld := range l.m.lockdowns {
		if ld.Type == typ && ld.Target == target {
			return uuid.Nil, fmt.Errorf("a %s lockdown is already active", typ)
		}
	}
	id := uuid.New()
	l.m.lockdowns = append(l.m.lockdowns, provider.Lockdown{
		ID:        id,
		Type:      typ,
		Target:    target,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return id, nil
}

func (l *Lockdowns) QSL(_ context.Context, reason string) (uuid.UUID, error) {
	return l.start(provider.LockdownQuickServer, "", reason)
}

func (l *Lockdowns) TSL(_ context.Context, reason string) (uuid.UUID, error) {
	return l.start(provider.LockdownTraditional, "", reason)
}

func (l *Lockdowns) SCL(_ context.Context, channelID, reason string) (uuid.UUID, error) {
	return l.start(provider.LockdownChannel, channelID, reason)
}

func (l *Lockdowns) Role(_ context.Context, roleID, reason string) (uuid.UUID, error) {
	return l.start(provider.LockdownRole, roleID, reason)
}

func (l *Lockdowns) Remove(_ context.Context, id uuid.UUID) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	i := slices.IndexFunc(l.m.lockdowns, func(ld provider.Lockdown) bool { return ld.ID == id })
	if i < 0 {
		return ErrLockdownNotFound
	}
	l.m.lockdowns = slices.Delete(l.m.lockdowns, i, i+1)
	return nil
}

// Stings serves a tenant's moderation ledger.
type Stings struct {
	limits
	m *moderation
}

// List returns one page of stings, newest first. Pages start at 1.
func (s *Stings) List(_ context.Context, page int) ([]provider.Sting, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be at least 1")
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	all := slices.Clone(s.m.stings)
	slices.Reverse(all)

	start := (page - 1) * StingPageSize
	if start >= len(all) {
		return []provider.Sting{}, nil
	}
	end := min(start+StingPageSize, len(all))
	return all[start:end], nil
}

func (s *Stings) Get(_ context.Context, id uuid.UUID) (*provider.Sting, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	i := s.m.sting(id)
	if i < 0 {
		return nil, nil
	}
	st := s.m.stings[i]
	return &st, nil
}

func (s *Stings) Create(_ context.Context, c provider.StingCreate) (uuid.UUID, error) {
	state := c.State
	if state == "" {
		state = StingActive
	}
	if err := checkStingState(state); err != nil {
		return uuid.Nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	id := uuid.New()
	s.m.stings = append(s.m.stings, provider.Sting{
		ID:        id,
		SrcID:     c.SrcID,
		Stings:    c.Stings,
		Reason:    c.Reason,
		Creator:   c.Creator,
		Target:    c.Target,
		State:     state,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: c.ExpiresAt,
		Data:      c.Data,
	})
	return id, nil
}

// Update replaces a sting. CreatedAt is kept.
func (s *Stings) Update(_ context.Context, st provider.Sting) error {
	if err := checkStingState(st.State); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	i := s.m.sting(st.ID)
	if i < 0 {
		return ErrStingNotFound
	}
	st.CreatedAt = s.m.stings[i].CreatedAt
	s.m.stings[i] = st
	return nil
}

func (s *Stings) Delete(_ context.Context, id uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	i := s.m.sting(id)
	if i < 0 {
		return ErrStingNotFound
	}
	s.m.stings = slices.Delete(s.m.stings, i, i+1)
	return nil
}

func checkStingState(state string) error {
	switch state {
	case StingActive, StingVoided, StingHandled:
		return nil
	}
	return fmt.Errorf("unknown sting state %q", state)
}

var (
	_ provider.LockdownProvider = (*Lockdowns)(nil)
	_ provider.StingProvider    = (*Stings)(nil)
)
