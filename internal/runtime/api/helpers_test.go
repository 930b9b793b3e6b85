package api

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/ratelimit"
	"github.com/dshills/warden/internal/runtime"
	"github.com/dshills/warden/internal/security"
)

// limited charges buckets against an optional limiter and records them.
type limited struct {
	lim *ratelimit.Limiter

	mu      sync.Mutex
	charged []string
}

func (l *limited) AttemptAction(bucket string) error {
	if l.lim != nil {
		if err := l.lim.Check(bucket); err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.charged = append(l.charged, bucket)
	l.mu.Unlock()
	return nil
}

func (l *limited) Charged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.charged...)
}

type fakeLockdown struct {
	limited

	mu        sync.Mutex
	lockdowns map[uuid.UUID]provider.Lockdown
}

func newFakeLockdown(lim *ratelimit.Limiter) *fakeLockdown {
	return &fakeLockdown{
		limited:   limited{lim: lim},
		lockdowns: make(map[uuid.UUID]provider.Lockdown),
	}
}

func (f *fakeLockdown) add(typ, target, reason string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.lockdowns[id] = provider.Lockdown{ID: id, Type: typ, Target: target, Reason: reason, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeLockdown) List(context.Context) ([]provider.Lockdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Lockdown, 0, len(f.lockdowns))
	for _, l := range f.lockdowns {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeLockdown) QSL(_ context.Context, reason string) (uuid.UUID, error) {
	return f.add(provider.LockdownQuickServer, "", reason)
}

func (f *fakeLockdown) TSL(_ context.Context, reason string) (uuid.UUID, error) {
	return f.add(provider.LockdownTraditional, "", reason)
}

func (f *fakeLockdown) SCL(_ context.Context, channelID, reason string) (uuid.UUID, error) {
	return f.add(provider.LockdownChannel, channelID, reason)
}

func (f *fakeLockdown) Role(_ context.Context, roleID, reason string) (uuid.UUID, error) {
	return f.add(provider.LockdownRole, roleID, reason)
}

func (f *fakeLockdown) Remove(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lockdowns[id]; !ok {
		return errors.New("lockdown not found")
	}
	delete(f.lockdowns, id)
	return nil
}

func (f *fakeLockdown) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lockdowns)
}

// fakeKV keeps records keyed by scopes and key.
type fakeKV struct {
	limited

	mu      sync.Mutex
	records map[string]provider.KVRecord
}

func newFakeKV() *fakeKV {
	return &fakeKV{records: make(map[string]provider.KVRecord)}
}

func kvID(scopes []string, key string) string {
	return strings.Join(scopes, ",") + "/" + key
}

func (f *fakeKV) ListScopes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range f.records {
		for _, s := range r.Scopes {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeKV) Keys(_ context.Context, scopes []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := strings.Join(scopes, ",") + "/"
	for id, r := range f.records {
		if strings.HasPrefix(id, prefix) {
			out = append(out, r.Key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeKV) Find(_ context.Context, scopes []string, query string) ([]provider.KVRecord, error) {
	keys, _ := f.Keys(context.Background(), scopes)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []provider.KVRecord
	for _, k := range keys {
		if strings.Contains(k, query) {
			out = append(out, f.records[kvID(scopes, k)])
		}
	}
	return out, nil
}

func (f *fakeKV) Exists(_ context.Context, scopes []string, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[kvID(scopes, key)]
	return ok, nil
}

func (f *fakeKV) Get(_ context.Context, scopes []string, key string) (provider.KVRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[kvID(scopes, key)]
	if !ok {
		return provider.KVRecord{Key: key, Scopes: scopes}, nil
	}
	return r, nil
}

func (f *fakeKV) Set(_ context.Context, scopes []string, key string, value any) (provider.KVSetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := kvID(scopes, key)
	_, existed := f.records[id]
	f.records[id] = provider.KVRecord{ID: id, Key: key, Value: value, Scopes: scopes, Exists: true}
	return provider.KVSetResult{Exists: existed, ID: id}, nil
}

func (f *fakeKV) Delete(_ context.Context, scopes []string, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, kvID(scopes, key))
	return nil
}

type fakeRuntime struct {
	limited
	state provider.TenantState
}

func (f *fakeRuntime) GetTenantState(context.Context) (provider.TenantState, error) {
	return f.state, nil
}

func (f *fakeRuntime) SetTenantState(_ context.Context, s provider.TenantState) error {
	f.state = s
	return nil
}

func (f *fakeRuntime) Stats(context.Context) (provider.RuntimeStats, error) {
	return provider.RuntimeStats{TotalTenants: 3}, nil
}

func (f *fakeRuntime) Links() provider.RuntimeLinks {
	return provider.RuntimeLinks{DocsURL: "https://docs.example.com"}
}

func (f *fakeRuntime) EventList(context.Context) ([]string, error) {
	return []string{"MESSAGE", "INTERACTION"}, nil
}

// fakeContext serves the fakes above for every scope.
type fakeContext struct {
	provider.UnimplementedContext
	tenant string
	owner  string
	caps   []string

	lockdown *fakeLockdown
	kv       *fakeKV
	rt       *fakeRuntime
}

func (c *fakeContext) TenantID() string      { return c.tenant }
func (c *fakeContext) OwnerTenantID() string { return c.owner }
func (c *fakeContext) AllowedCaps() []string { return c.caps }

func (c *fakeContext) LockdownProvider(provider.ExecutorScope) (provider.LockdownProvider, bool) {
	if c.lockdown == nil {
		return nil, false
	}
	return c.lockdown, true
}

func (c *fakeContext) KVProvider(provider.ExecutorScope) (provider.KVProvider, bool) {
	if c.kv == nil {
		return nil, false
	}
	return c.kv, true
}

func (c *fakeContext) RuntimeProvider(provider.ExecutorScope) (provider.RuntimeProvider, bool) {
	if c.rt == nil {
		return nil, false
	}
	return c.rt, true
}

// newIsolate builds a runtime exposing every standard module and an
// isolate allowed caps.
func newIsolate(t *testing.T, caps ...string) *runtime.Isolate {
	t.Helper()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	rt, err := runtime.New(runtime.WithModules(reg.Modules()...))
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() {
		rt.Close()
		rt.Wait()
	})

	iso, err := rt.NewIsolate(security.MustSet(caps...))
	if err != nil {
		t.Fatalf("NewIsolate: %v", err)
	}
	return iso
}

func spawn(t *testing.T, iso *runtime.Isolate, pctx provider.Context, code string, args ...any) ([]any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return iso.Spawn(ctx, t.Name()+".lua", code, pctx, args...)
}
