package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations and builds the private
// global environments scripts run in.
type Sandbox struct {
	L *lua.LState
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// removedGlobals can load code or reach the shared global table.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"getfenv",
	"setfenv",
	"module",
	"require",
	"collectgarbage",
}

// frozenLibraries are shared library tables handed to scripts behind a
// read-only proxy.
var frozenLibraries = []string{
	"string",
	"table",
	"math",
	"coroutine",
}

// Install removes dangerous globals from the state.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}

	// The string metatable indexes the shared string library.
	if mt, ok := s.L.GetMetatable(lua.LString("")).(*lua.LTable); ok {
		mt.RawSetString("__metatable", lua.LString("locked"))
	}
}

// NewEnvironment returns a fresh global table for one isolate. Plain values
// from the shared globals are copied; library tables are exposed through
// read-only proxies so one isolate cannot alter what another sees.
func (s *Sandbox) NewEnvironment() *lua.LTable {
	L := s.L
	globals := L.G.Global
	env := L.NewTable()

	globals.ForEach(func(k, v lua.LValue) {
		env.RawSet(k, v)
	})

	for _, name := range frozenLibraries {
		if lib, ok := globals.RawGetString(name).(*lua.LTable); ok {
			env.RawSetString(name, s.ReadOnly(lib))
		}
	}

	env.RawSetString("_G", env)
	return env
}

// ReadOnly returns a proxy table that reads through to t and rejects
// writes.
func (s *Sandbox) ReadOnly(t *lua.LTable) *lua.LTable {
	L := s.L
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", t)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to modify a read-only table")
		return 0
	}))
	mt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(proxy, mt)
	return proxy
}
