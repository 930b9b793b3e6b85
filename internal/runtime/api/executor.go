package api

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/runtime"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
)

// newHandle implements the common part of new(ctx[, scope]): it resolves
// the provider of subsystem for the invocation and raises a
// ProviderUnavailable error when there is none.
func newHandle[P provider.Limited](L *lua.LState, subsystem string, lookup provider.Lookup[P]) *provider.Handle[P] {
	sc := runtime.CheckScriptContext(L, 1)
	scope, err := provider.ParseScope(L.OptString(2, ""))
	if err != nil {
		L.ArgError(2, err.Error())
	}

	h, err := provider.NewHandle(sc.Provider, sc.Caps, subsystem, scope, lookup)
	if err != nil {
		runtime.RaiseFault(L, subsystem+".new", err)
	}
	return h
}

// authorize raises unless h admits action. See provider.Handle.Authorize.
func authorize[P provider.Limited](L *lua.LState, h *provider.Handle[P], action string, alternatives ...security.Capability) {
	if err := h.Authorize(action, alternatives...); err != nil {
		runtime.RaiseFault(L, h.Op(action), err)
	}
}

// authorizeExact raises unless h admits action against bucket with caps.
func authorizeExact[P provider.Limited](L *lua.LState, h *provider.Handle[P], action, bucket string, caps ...security.Capability) {
	if err := h.AuthorizeExact(action, bucket, caps...); err != nil {
		runtime.RaiseFault(L, h.Op(action), err)
	}
}

// executor builds the table returned by new. Methods are called with a
// colon, so their own arguments start at stack index 2.
func executor[P provider.Limited](L *lua.LState, h *provider.Handle[P], methods map[string]lua.LGFunction) *lua.LTable {
	ex := L.NewTable()
	L.SetFuncs(ex, methods)
	ex.RawSetString("scope", lua.LString(h.Scope().String()))

	mt := L.NewTable()
	name := fmt.Sprintf("%s<%s>", h.Subsystem(), h.Scope())
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(name))
		return 1
	}))
	mt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(ex, mt)
	return ex
}

// push pushes a promise running task and returns the result count.
func push(L *lua.LState, op string, task runtime.Task) int {
	L.Push(runtime.NewPromise(L, op, task))
	return 1
}

// value adapts a typed provider call to a promise task.
func value[T any](fn func(ctx context.Context) (T, error)) runtime.Task {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// done adapts a provider call without a result to a promise task.
func done(fn func(ctx context.Context) error) runtime.Task {
	return func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}
}

// optStrings reads an optional array of strings at n.
func optStrings(L *lua.LState, n int) []string {
	lv := L.Get(n)
	if lv == lua.LNil {
		return nil
	}
	t, ok := lv.(*lua.LTable)
	if !ok {
		L.ArgError(n, "array of strings expected")
	}
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		s, ok := t.RawGetInt(i).(lua.LString)
		if !ok {
			L.ArgError(n, fmt.Sprintf("element %d is not a string", i))
		}
		out = append(out, string(s))
	}
	return out
}

// checkID reads a required id argument at n.
func checkID(L *lua.LState, n int) string {
	id := L.CheckString(n)
	if id == "" {
		L.ArgError(n, "id must not be empty")
	}
	return id
}

// toGo converts the Lua value at n to a Go value on the executor goroutine.
// Tasks must not touch the Lua state.
func toGo(L *lua.LState, n int) any {
	return plua.NewBridge(L).ToGoValue(L.Get(n))
}

// tableTime reads an RFC 3339 string or a Unix timestamp field.
func tableTime(t *lua.LTable, key string) (*time.Time, error) {
	switch v := t.RawGetString(key).(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LNumber:
		ts := time.Unix(int64(v), 0).UTC()
		return &ts, nil
	case lua.LString:
		ts, err := time.Parse(time.RFC3339, string(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &ts, nil
	default:
		return nil, fmt.Errorf("%s: expected RFC 3339 string or unix seconds, got %s", key, v.Type())
	}
}
