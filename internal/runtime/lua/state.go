package lua

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Default limits for a Lua state.
const (
	DefaultCallStackSize   = 256
	DefaultRegistrySize    = 1024 * 20
	DefaultRegistryMaxSize = 1024 * 1024
)

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. A State is owned by exactly one
// Executor; every operation on L must run on that executor's goroutine.
type State struct {
	L *lua.LState

	mu sync.Mutex

	callStackSize   int
	registrySize    int
	registryMaxSize int

	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallStackSize sets the maximum call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		s.callStackSize = n
	}
}

// WithRegistryLimits sets the initial and maximum registry size. The
// registry bounds the values live on the VM stack; exceeding the maximum is
// treated as memory exhaustion.
func WithRegistryLimits(initial, max int) StateOption {
	return func(s *State) {
		s.registrySize = initial
		s.registryMaxSize = max
	}
}

// NewState creates a new sandboxed Lua state with the safe standard
// libraries open.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callStackSize:   DefaultCallStackSize,
		registrySize:    DefaultRegistrySize,
		registryMaxSize: DefaultRegistryMaxSize,
	}
	for _, opt := range opts {
		opt(state)
	}

	if state.registryMaxSize > 0 && state.registryMaxSize < state.registrySize {
		return nil, fmt.Errorf("registry max size %d is below initial size %d", state.registryMaxSize, state.registrySize)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   state.callStackSize,
		RegistrySize:    state.registrySize,
		RegistryMaxSize: state.registryMaxSize,
	})
	state.L = L

	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, err
	}

	state.sandbox = NewSandbox(L)
	state.sandbox.Install()

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}

	// io, os, debug, package and channel are intentionally not opened.
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("opening lua library %q: %w", lib.name, err)
		}
	}
	return nil
}

// Compile parses and compiles source into a function prototype. The
// prototype is independent of any LState and may be cached.
func Compile(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	return proto, nil
}

// LuaState returns the underlying gopher-lua state.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the Lua state. It is safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}
