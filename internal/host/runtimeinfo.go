package host

import (
	"context"
	"slices"
	"sync"

	"github.com/dshills/warden/internal/provider"
)

// DefaultEvents are the event names a tenant can subscribe to.
var DefaultEvents = []string{
	"GUILD_MEMBER_ADD",
	"GUILD_MEMBER_REMOVE",
	"INTERACTION_CREATE",
	"MESSAGE_CREATE",
	"MESSAGE_DELETE",
	"SCHEDULED_EXECUTION",
}

// RuntimeInfo serves hosting-service information and a tenant's runtime
// state.
type RuntimeInfo struct {
	limits
	host *Host

	mu    sync.Mutex
	state provider.TenantState
}

func (r *RuntimeInfo) GetTenantState(context.Context) (provider.TenantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Events = slices.Clone(s.Events)
	return s, nil
}

func (r *RuntimeInfo) SetTenantState(_ context.Context, s provider.TenantState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Events = slices.Clone(s.Events)
	r.state = s
	return nil
}

func (r *RuntimeInfo) Stats(context.Context) (provider.RuntimeStats, error) {
	return r.host.Stats(), nil
}

func (r *RuntimeInfo) Links() provider.RuntimeLinks {
	return r.host.links
}

func (r *RuntimeInfo) EventList(context.Context) ([]string, error) {
	return slices.Clone(r.host.events), nil
}

var _ provider.RuntimeProvider = (*RuntimeInfo)(nil)
