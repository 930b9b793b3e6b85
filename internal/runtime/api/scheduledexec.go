package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
)

// ScheduledExecModule implements @warden/scheduledexec.
type ScheduledExecModule struct{}

// NewScheduledExecModule creates the scheduledexec module.
func NewScheduledExecModule() *ScheduledExecModule {
	return &ScheduledExecModule{}
}

// Name returns the module name.
func (m *ScheduledExecModule) Name() string {
	return "scheduledexec"
}

// Open builds the module table.
func (m *ScheduledExecModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *ScheduledExecModule) new(L *lua.LState) int {
	h := newHandle[provider.ScheduledExecProvider](L, "scheduledexec", provider.Context.ScheduledExecProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// scheduledexec:list([id]) -> promise<{execution}>
		"list": func(L *lua.LState) int {
			id := L.OptString(2, "")
			authorize(L, h, "list")
			return push(L, h.Op("list"), value(func(ctx context.Context) ([]provider.ScheduledExecution, error) {
				return p.List(ctx, id)
			}))
		},

		// scheduledexec:add({id, template_name, data, run_at}) -> promise<nil>
		"add": func(L *lua.LState) int {
			exec := checkScheduledExecution(L, 2)
			authorize(L, h, "add")
			return push(L, h.Op("add"), done(func(ctx context.Context) error {
				return p.Add(ctx, exec)
			}))
		},

		// scheduledexec:remove(id) -> promise<nil>
		"remove": func(L *lua.LState) int {
			id := checkID(L, 2)
			authorize(L, h, "remove")
			return push(L, h.Op("remove"), done(func(ctx context.Context) error {
				return p.Remove(ctx, id)
			}))
		},
	}))
	return 1
}

func checkScheduledExecution(L *lua.LState, n int) provider.ScheduledExecution {
	t := L.CheckTable(n)
	var e provider.ScheduledExecution
	e.ID, _ = plua.TableString(t, "id")
	e.TemplateName, _ = plua.TableString(t, "template_name")
	if e.ID == "" || e.TemplateName == "" {
		L.ArgError(n, "id and template_name are required")
	}
	e.Data = plua.NewBridge(L).ToGoValue(t.RawGetString("data"))

	runAt, err := tableTime(t, "run_at")
	if err != nil {
		L.ArgError(n, err.Error())
	}
	if runAt == nil {
		L.ArgError(n, "run_at is required")
	}
	e.RunAt = *runAt
	return e
}
