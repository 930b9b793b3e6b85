package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
)

// PageModule implements @warden/page.
type PageModule struct{}

// NewPageModule creates the page module.
func NewPageModule() *PageModule {
	return &PageModule{}
}

// Name returns the module name.
func (m *PageModule) Name() string {
	return "page"
}

// Open builds the module table.
func (m *PageModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *PageModule) new(L *lua.LState) int {
	h := newHandle[provider.PageProvider](L, "page", provider.Context.PageProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// page:get() -> promise<page|nil>
		"get": func(L *lua.LState) int {
			authorize(L, h, "get")
			return push(L, h.Op("get"), value(p.Get))
		},

		// page:set({template_id, title, description, settings}) -> promise<nil>
		"set": func(L *lua.LState) int {
			t := L.CheckTable(2)
			var page provider.Page
			page.TemplateID, _ = plua.TableString(t, "template_id")
			page.Title, _ = plua.TableString(t, "title")
			page.Description, _ = plua.TableString(t, "description")
			page.Settings = plua.NewBridge(L).ToGoValue(t.RawGetString("settings"))
			if page.Title == "" {
				L.ArgError(2, "title is required")
			}
			authorize(L, h, "set")
			return push(L, h.Op("set"), done(func(ctx context.Context) error {
				return p.Set(ctx, page)
			}))
		},

		// page:delete() -> promise<nil>
		"delete": func(L *lua.LState) int {
			authorize(L, h, "delete")
			return push(L, h.Op("delete"), done(p.Delete))
		},
	}))
	return 1
}
