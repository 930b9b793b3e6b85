package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
)

// UserInfoModule implements @warden/userinfo.
type UserInfoModule struct{}

// NewUserInfoModule creates the userinfo module.
func NewUserInfoModule() *UserInfoModule {
	return &UserInfoModule{}
}

// Name returns the module name.
func (m *UserInfoModule) Name() string {
	return "userinfo"
}

// Open builds the module table.
func (m *UserInfoModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *UserInfoModule) new(L *lua.LState) int {
	h := newHandle[provider.UserInfoProvider](L, "userinfo", provider.Context.UserInfoProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// userinfo:get(user_id) -> promise<userinfo>
		"get": func(L *lua.LState) int {
			user := checkID(L, 2)
			authorize(L, h, "get")
			return push(L, h.Op("get"), value(func(ctx context.Context) (provider.UserInfo, error) {
				return p.Get(ctx, user)
			}))
		},
	}))
	return 1
}
