package api

import (
	"context"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
)

// StingsModule implements @warden/stings. Its capabilities live in the
// "sting" namespace.
type StingsModule struct{}

// NewStingsModule creates the stings module.
func NewStingsModule() *StingsModule {
	return &StingsModule{}
}

// Name returns the module name.
func (m *StingsModule) Name() string {
	return "stings"
}

// Open builds the module table.
func (m *StingsModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *StingsModule) new(L *lua.LState) int {
	h := newHandle[provider.StingProvider](L, "sting", provider.Context.StingProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// stings:list(page) -> promise<{sting}>
		"list": func(L *lua.LState) int {
			page := L.OptInt(2, 1)
			if page < 1 {
				L.ArgError(2, "page starts at 1")
			}
			authorize(L, h, "list")
			return push(L, h.Op("list"), value(func(ctx context.Context) ([]provider.Sting, error) {
				return p.List(ctx, page)
			}))
		},

		// stings:get(id) -> promise<sting|nil>
		"get": func(L *lua.LState) int {
			id := checkUUID(L, 2)
			authorize(L, h, "get")
			return push(L, h.Op("get"), value(func(ctx context.Context) (*provider.Sting, error) {
				return p.Get(ctx, id)
			}))
		},

		// stings:create(sting) -> promise<id>
		"create": func(L *lua.LState) int {
			create := checkStingCreate(L, 2)
			authorize(L, h, "create")
			return push(L, h.Op("create"), value(func(ctx context.Context) (uuid.UUID, error) {
				return p.Create(ctx, create)
			}))
		},

		// stings:update(sting) -> promise<nil>
		"update": func(L *lua.LState) int {
			sting := checkSting(L, 2)
			authorize(L, h, "update")
			return push(L, h.Op("update"), done(func(ctx context.Context) error {
				return p.Update(ctx, sting)
			}))
		},

		// stings:delete(id) -> promise<nil>
		"delete": func(L *lua.LState) int {
			id := checkUUID(L, 2)
			authorize(L, h, "delete")
			return push(L, h.Op("delete"), done(func(ctx context.Context) error {
				return p.Delete(ctx, id)
			}))
		},
	}))
	return 1
}

func checkStingCreate(L *lua.LState, n int) provider.StingCreate {
	t := L.CheckTable(n)
	var c provider.StingCreate
	c.SrcID, _ = plua.TableString(t, "src_id")
	c.Reason, _ = plua.TableString(t, "reason")
	c.Creator, _ = plua.TableString(t, "creator")
	c.Target, _ = plua.TableString(t, "target")
	c.State, _ = plua.TableString(t, "state")
	c.Data = plua.NewBridge(L).ToGoValue(t.RawGetString("data"))

	stings, ok := plua.TableInt(t, "stings")
	if !ok || stings < 1 {
		L.ArgError(n, "stings must be a positive number")
	}
	c.Stings = stings
	if c.Creator == "" || c.Target == "" {
		L.ArgError(n, "creator and target are required")
	}
	if c.State == "" {
		c.State = "active"
	}

	expires, err := tableTime(t, "expires_at")
	if err != nil {
		L.ArgError(n, err.Error())
	}
	c.ExpiresAt = expires
	return c
}

func checkSting(L *lua.LState, n int) provider.Sting {
	t := L.CheckTable(n)
	idStr, _ := plua.TableString(t, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		L.ArgError(n, "id: "+err.Error())
	}

	c := checkStingCreate(L, n)
	s := provider.Sting{
		ID:        id,
		SrcID:     c.SrcID,
		Stings:    c.Stings,
		Reason:    c.Reason,
		Creator:   c.Creator,
		Target:    c.Target,
		State:     c.State,
		ExpiresAt: c.ExpiresAt,
		Data:      c.Data,
	}
	s.VoidReason, _ = plua.TableString(t, "void_reason")
	return s
}
