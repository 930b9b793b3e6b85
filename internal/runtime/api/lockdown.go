package api

import (
	"context"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
)

// LockdownModule implements @warden/lockdown.
type LockdownModule struct{}

// NewLockdownModule creates the lockdown module.
func NewLockdownModule() *LockdownModule {
	return &LockdownModule{}
}

// Name returns the module name.
func (m *LockdownModule) Name() string {
	return "lockdown"
}

// Open builds the module table.
func (m *LockdownModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))

	// Lockdown types as reported in list()
	L.SetField(mod, "QSL", lua.LString(provider.LockdownQuickServer))
	L.SetField(mod, "TSL", lua.LString(provider.LockdownTraditional))
	L.SetField(mod, "SCL", lua.LString(provider.LockdownChannel))
	L.SetField(mod, "ROLE", lua.LString(provider.LockdownRole))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *LockdownModule) new(L *lua.LState) int {
	h := newHandle[provider.LockdownProvider](L, "lockdown", provider.Context.LockdownProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// lockdown:list() -> promise<{lockdown}>
		"list": func(L *lua.LState) int {
			authorize(L, h, "list")
			return push(L, h.Op("list"), value(p.List))
		},

		// lockdown:qsl(reason) -> promise<id>
		"qsl": func(L *lua.LState) int {
			reason := L.CheckString(2)
			authorize(L, h, "qsl")
			return push(L, h.Op("qsl"), value(func(ctx context.Context) (uuid.UUID, error) {
				return p.QSL(ctx, reason)
			}))
		},

		// lockdown:tsl(reason) -> promise<id>
		"tsl": func(L *lua.LState) int {
			reason := L.CheckString(2)
			authorize(L, h, "tsl")
			return push(L, h.Op("tsl"), value(func(ctx context.Context) (uuid.UUID, error) {
				return p.TSL(ctx, reason)
			}))
		},

		// lockdown:scl(channel_id, reason) -> promise<id>
		"scl": func(L *lua.LState) int {
			channel := checkID(L, 2)
			reason := L.CheckString(3)
			authorize(L, h, "scl")
			return push(L, h.Op("scl"), value(func(ctx context.Context) (uuid.UUID, error) {
				return p.SCL(ctx, channel, reason)
			}))
		},

		// lockdown:role(role_id, reason) -> promise<id>
		"role": func(L *lua.LState) int {
			role := checkID(L, 2)
			reason := L.CheckString(3)
			authorize(L, h, "role")
			return push(L, h.Op("role"), value(func(ctx context.Context) (uuid.UUID, error) {
				return p.Role(ctx, role, reason)
			}))
		},

		// lockdown:remove(id) -> promise<nil>
		"remove": func(L *lua.LState) int {
			id := checkUUID(L, 2)
			authorize(L, h, "remove")
			return push(L, h.Op("remove"), done(func(ctx context.Context) error {
				return p.Remove(ctx, id)
			}))
		},
	}))
	return 1
}

// checkUUID reads a UUID argument at n.
func checkUUID(L *lua.LState, n int) uuid.UUID {
	id, err := uuid.Parse(L.CheckString(n))
	if err != nil {
		L.ArgError(n, "invalid id: "+err.Error())
	}
	return id
}
