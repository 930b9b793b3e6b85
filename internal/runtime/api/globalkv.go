package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/security"
)

// DefaultGlobalKVScope is the visibility scope used when a script passes
// none.
const DefaultGlobalKVScope = "public"

// GlobalKVModule implements @warden/globalkv.
//
// Every call needs "globalkv:access:<scope>" for the visibility scope it
// reads. The bucket is the action.
type GlobalKVModule struct{}

// NewGlobalKVModule creates the globalkv module.
func NewGlobalKVModule() *GlobalKVModule {
	return &GlobalKVModule{}
}

// Name returns the module name.
func (m *GlobalKVModule) Name() string {
	return "globalkv"
}

// Open builds the module table.
func (m *GlobalKVModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *GlobalKVModule) new(L *lua.LState) int {
	h := newHandle[provider.GlobalKVProvider](L, "globalkv", provider.Context.GlobalKVProvider)
	p := h.Provider()

	access := func(L *lua.LState, action, scope string) {
		authorizeExact(L, h, action, action, security.Of("globalkv", "access", scope))
	}

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// globalkv:list(query[, scope]) -> promise<{record}>
		"list": func(L *lua.LState) int {
			query := L.CheckString(2)
			scope := L.OptString(3, DefaultGlobalKVScope)
			access(L, "list", scope)
			return push(L, h.Op("list"), value(func(ctx context.Context) ([]provider.GlobalKVRecord, error) {
				return p.List(ctx, query, scope)
			}))
		},

		// globalkv:get(key[, version[, scope]]) -> promise<record|nil>
		//
		// Version 0 selects the latest version.
		"get": func(L *lua.LState) int {
			key := L.CheckString(2)
			version := L.OptInt(3, 0)
			scope := L.OptString(4, DefaultGlobalKVScope)
			if version < 0 {
				L.ArgError(3, "version must not be negative")
			}
			access(L, "get", scope)
			return push(L, h.Op("get"), value(func(ctx context.Context) (*provider.GlobalKVRecord, error) {
				return p.Get(ctx, key, version, scope)
			}))
		},
	}))
	return 1
}
