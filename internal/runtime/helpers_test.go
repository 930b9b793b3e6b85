package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
)

// testContext is a host context with identity and capabilities only.
type testContext struct {
	provider.UnimplementedContext
	tenant string
	owner  string
	user   string
	caps   []string
	data   map[string]any
}

func (c testContext) TenantID() string      { return c.tenant }
func (c testContext) OwnerTenantID() string { return c.owner }
func (c testContext) CurrentUser() string   { return c.user }
func (c testContext) AllowedCaps() []string { return c.caps }
func (c testContext) Data() map[string]any  { return c.data }

// testModule exposes promise constructors to scripts as @warden/test.
type testModule struct {
	marks atomic.Int32

	startOnce  sync.Once
	started    chan struct{}
	cancelOnce sync.Once
	cancelled  chan struct{}
}

func newTestModule() *testModule {
	return &testModule{
		started:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (m *testModule) Name() string { return "test" }

func (m *testModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()

	// value(v) -> promise resolving to v
	L.SetField(mod, "value", L.NewFunction(func(L *lua.LState) int {
		L.Push(Resolved(L, "test.value", plua.NewBridge(L).ToGoValue(L.Get(1))))
		return 1
	}))

	// fail(msg) -> promise rejecting with msg
	L.SetField(mod, "fail", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		L.Push(NewPromise(L, "test.fail", func(context.Context) (any, error) {
			return nil, errors.New(msg)
		}))
		return 1
	}))

	// block() -> promise that settles only when its context is cancelled
	L.SetField(mod, "block", L.NewFunction(func(L *lua.LState) int {
		L.Push(NewPromise(L, "test.block", func(ctx context.Context) (any, error) {
			m.startOnce.Do(func() { close(m.started) })
			<-ctx.Done()
			m.cancelOnce.Do(func() { close(m.cancelled) })
			return "late", nil
		}))
		return 1
	}))

	// deny() raises an AuthorizationDenied fault without returning a promise
	L.SetField(mod, "deny", L.NewFunction(func(L *lua.LState) int {
		RaiseFault(L, "test.deny", fault.Denied("test.deny", "test:deny"))
		return 0
	}))

	// mark() records that the script got this far
	L.SetField(mod, "mark", L.NewFunction(func(L *lua.LState) int {
		m.marks.Add(1)
		return 0
	}))

	return mod
}

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *testModule) {
	t.Helper()
	mod := newTestModule()
	rt, err := New(append([]Option{WithModules(mod)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		rt.Close()
		rt.Wait()
	})
	return rt, mod
}

func newTestIsolate(t *testing.T, rt *Runtime, caps ...string) *Isolate {
	t.Helper()
	iso, err := rt.NewIsolate(security.MustSet(caps...))
	require.NoError(t, err)
	return iso
}
