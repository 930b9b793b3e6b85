package api

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

type mockModule struct {
	name string
}

func (m *mockModule) Name() string { return m.name }
func (m *mockModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "name", lua.LString(m.name))
	return mod
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	mod := &mockModule{name: "test"}
	if err := r.Register(mod); err != nil {
		t.Errorf("Register error = %v", err)
	}

	// Duplicate registration should fail
	if err := r.Register(mod); err == nil {
		t.Error("duplicate Register should return error")
	}

	if err := r.Register(&mockModule{}); err == nil {
		t.Error("Register of unnamed module should return error")
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	mod := &mockModule{name: "test"}
	if err := r.Register(mod); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Get("test")
	if !ok {
		t.Fatal("Get should find registered module")
	}
	if got != mod {
		t.Error("Get returned a different module")
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get should not find nonexistent module")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&mockModule{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	names := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	mods := r.Modules()
	for i := range want {
		if mods[i].Name() != want[i] {
			t.Errorf("Modules()[%d] = %q, want %q", i, mods[i].Name(), want[i])
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry error = %v", err)
	}

	expected := []string{
		"discord", "globalkv", "kv", "lockdown", "objectstorage", "page",
		"promise", "runtime", "scheduledexec", "stings", "userinfo",
	}
	names := r.List()
	if len(names) != len(expected) {
		t.Fatalf("List() = %v, want %v", names, expected)
	}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], name)
		}
	}
}
