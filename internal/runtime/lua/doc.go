// Package lua provides the low-level Lua VM used by the sandbox runtime.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management with registry and call-stack limits
//   - Per-isolate global environments with read-only shared libraries
//   - Go-Lua type conversion bridge
//   - A single-goroutine executor that owns the state
//
// # State
//
//	state, err := lua.NewState(lua.WithRegistryLimits(1<<12, 1<<20))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer state.Close()
//
// # Sandbox
//
// The Sandbox removes every global that can load code or reach the shared
// global table (dofile, loadfile, load, loadstring, getfenv, setfenv,
// require). NewEnvironment builds a private global table for one isolate.
//
// # Executor
//
// gopher-lua states are not goroutine-safe. The Executor runs every
// operation, including coroutine resumption, on one goroutine.
package lua
