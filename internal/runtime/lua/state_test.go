package lua

import (
	"errors"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestNewState(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	defer state.Close()

	if state.IsClosed() {
		t.Error("NewState() returned closed state")
	}
	if state.LuaState() == nil {
		t.Error("NewState() LuaState() is nil")
	}
	if state.Sandbox() == nil {
		t.Error("NewState() Sandbox() is nil")
	}
}

func TestNewStateRejectsInvertedRegistryLimits(t *testing.T) {
	if _, err := NewState(WithRegistryLimits(1024, 16)); err == nil {
		t.Error("NewState() with max < initial should fail")
	}
}

func TestStateOpensSafeLibraries(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	defer state.Close()

	L := state.LuaState()
	for _, lib := range []string{"string", "table", "math", "coroutine"} {
		if L.GetGlobal(lib) == lua.LNil {
			t.Errorf("library %q should be open", lib)
		}
	}
	for _, lib := range []string{"io", "os", "debug", "package", "channel"} {
		if L.GetGlobal(lib) != lua.LNil {
			t.Errorf("library %q should not be open", lib)
		}
	}
}

func TestStateCloseIdempotent(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	if err := state.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestCompile(t *testing.T) {
	proto, err := Compile("ok.lua", `return 1 + 1`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	L := lua.NewState()
	defer L.Close()

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		t.Fatalf("PCall() error = %v", err)
	}
	if got := L.Get(-1); got != lua.LNumber(2) {
		t.Errorf("result = %v, want 2", got)
	}
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("bad.lua", `return (`)
	if err == nil {
		t.Fatal("Compile() should fail on a syntax error")
	}
	if !strings.Contains(err.Error(), "bad.lua") {
		t.Errorf("error %q should name the chunk", err)
	}
}

func TestRegistryOverflowIsScriptError(t *testing.T) {
	state, err := NewState(WithRegistryLimits(256, 512))
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	defer state.Close()

	L := state.LuaState()
	err = L.DoString(`
		local function deep(n, ...)
			return deep(n + 1, n, ...)
		end
		deep(1)
	`)
	if err == nil {
		t.Fatal("expected the registry to overflow")
	}
	if errors.Is(err, ErrPanic) {
		t.Errorf("DoString() error = %v, want a plain script error", err)
	}

	// The state is still usable.
	if err := L.DoString(`x = 1`); err != nil {
		t.Errorf("DoString() after overflow error = %v", err)
	}
}
