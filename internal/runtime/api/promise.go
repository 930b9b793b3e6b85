package api

import (
	"context"
	"errors"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/runtime"
)

// MaxSleep bounds promise.sleep.
const MaxSleep = 5 * time.Minute

// PromiseModule implements @warden/promise. It needs no provider and no
// capability.
type PromiseModule struct{}

// NewPromiseModule creates the promise module.
func NewPromiseModule() *PromiseModule {
	return &PromiseModule{}
}

// Name returns the module name.
func (m *PromiseModule) Name() string {
	return "promise"
}

// Open builds the module table.
func (m *PromiseModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"resolved":   m.resolved,
		"rejected":   m.rejected,
		"sleep":      m.sleep,
		"is_promise": m.isPromise,
	})
	return mod
}

// resolved(v) -> promise<v>
func (m *PromiseModule) resolved(L *lua.LState) int {
	L.Push(runtime.Resolved(L, "promise.resolved", toGo(L, 1)))
	return 1
}

// rejected(message) -> promise that fails with message
func (m *PromiseModule) rejected(L *lua.LState) int {
	err := errors.New(L.CheckString(1))
	return push(L, "promise.rejected", func(context.Context) (any, error) {
		return nil, err
	})
}

// sleep(seconds) -> promise<nil> settling after the delay
func (m *PromiseModule) sleep(L *lua.LState) int {
	secs := float64(L.CheckNumber(1))
	d := time.Duration(secs * float64(time.Second))
	if d < 0 || d > MaxSleep {
		L.ArgError(1, "sleep must be between 0 and 300 seconds")
	}
	return push(L, "promise.sleep", func(ctx context.Context) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// is_promise(v) -> bool
func (m *PromiseModule) isPromise(L *lua.LState) int {
	L.Push(lua.LBool(runtime.IsPromise(L.Get(1))))
	return 1
}
