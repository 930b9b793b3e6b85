package api

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/warden/internal/runtime"
)

// Registry holds the modules a runtime exposes to scripts.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]runtime.Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]runtime.Module),
	}
}

// Register adds a module. Names are unique.
func (r *Registry) Register(mod runtime.Module) error {
	name := mod.Name()
	if name == "" {
		return fmt.Errorf("module name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}
	r.modules[name] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (runtime.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns the registered module names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the registered modules ordered by name, ready for
// runtime.WithModules.
func (r *Registry) Modules() []runtime.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mods := make([]runtime.Module, 0, len(r.modules))
	for _, mod := range r.modules {
		mods = append(mods, mod)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name() < mods[j].Name() })
	return mods
}

// Modules returns a fresh instance of every standard module.
func Modules() []runtime.Module {
	return []runtime.Module{
		NewKVModule(),
		NewGlobalKVModule(),
		NewLockdownModule(),
		NewStingsModule(),
		NewUserInfoModule(),
		NewScheduledExecModule(),
		NewPageModule(),
		NewObjectStorageModule(),
		NewRuntimeModule(),
		NewDiscordModule(),
		NewPromiseModule(),
	}
}

// DefaultRegistry creates a registry with every standard module registered.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, mod := range Modules() {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
	}
	return r, nil
}
