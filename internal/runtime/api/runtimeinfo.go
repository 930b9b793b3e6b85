package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
)

// RuntimeModule implements @warden/runtime. "runtime:*" allows every
// action.
type RuntimeModule struct{}

// NewRuntimeModule creates the runtime module.
func NewRuntimeModule() *RuntimeModule {
	return &RuntimeModule{}
}

// Name returns the module name.
func (m *RuntimeModule) Name() string {
	return "runtime"
}

// Open builds the module table.
func (m *RuntimeModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *RuntimeModule) new(L *lua.LState) int {
	h := newHandle[provider.RuntimeProvider](L, "runtime", provider.Context.RuntimeProvider)
	p := h.Provider()
	wildcard := security.Of("runtime", security.Wildcard)

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// runtime:get_tenant_state() -> promise<state>
		"get_tenant_state": func(L *lua.LState) int {
			authorize(L, h, "get_tenant_state", wildcard)
			return push(L, h.Op("get_tenant_state"), value(p.GetTenantState))
		},

		// runtime:set_tenant_state({events, banned, data}) -> promise<nil>
		"set_tenant_state": func(L *lua.LState) int {
			t := L.CheckTable(2)
			var state provider.TenantState
			state.Events, _ = plua.TableStrings(t, "events")
			state.Banned, _ = plua.TableBool(t, "banned")
			state.Data = plua.NewBridge(L).ToGoValue(t.RawGetString("data"))
			authorize(L, h, "set_tenant_state", wildcard)
			return push(L, h.Op("set_tenant_state"), done(func(ctx context.Context) error {
				return p.SetTenantState(ctx, state)
			}))
		},

		// runtime:stats() -> promise<stats>
		"stats": func(L *lua.LState) int {
			authorize(L, h, "stats", wildcard)
			return push(L, h.Op("stats"), value(p.Stats))
		},

		// runtime:links() -> promise<links>
		"links": func(L *lua.LState) int {
			authorize(L, h, "links", wildcard)
			return push(L, h.Op("links"), value(func(context.Context) (provider.RuntimeLinks, error) {
				return p.Links(), nil
			}))
		},

		// runtime:event_list() -> promise<{string}>
		"event_list": func(L *lua.LState) int {
			authorize(L, h, "event_list", wildcard)
			return push(L, h.Op("event_list"), value(p.EventList))
		},
	}))
	return 1
}
