package runtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/warden/internal/fault"
)

// Manager owns a Runtime, an optional main isolate and a name-keyed set of
// sub isolates. It installs the runtime's only broken callback: when the
// runtime breaks, the main isolate is dropped, the sub isolates are
// cleared, and then the callback registered with SetOnBroken fires once.
type Manager struct {
	rt     *Runtime
	logger *zap.Logger

	mu       sync.RWMutex
	main     *Isolate
	subs     map[string]*Isolate
	onBroken BrokenFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger. It defaults to the runtime's.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnBroken registers the external broken callback.
func WithOnBroken(fn BrokenFunc) ManagerOption {
	return func(m *Manager) {
		m.onBroken = fn
	}
}

// NewManager takes ownership of rt. It panics with an InvariantViolation
// fault if rt already has a broken callback, which means another manager
// owns it.
func NewManager(rt *Runtime, opts ...ManagerOption) *Manager {
	m := &Manager{
		rt:     rt,
		logger: rt.Logger(),
		subs:   make(map[string]*Isolate),
	}
	for _, opt := range opts {
		opt(m)
	}

	if !rt.claimOnBroken(m.handleBroken) {
		fault.Invariant("runtime.NewManager", "runtime already has a broken callback; it is owned by another manager")
	}
	return m
}

// handleBroken runs once, on the goroutine that broke the runtime.
func (m *Manager) handleBroken(reason string) {
	m.mu.Lock()
	main := m.main
	m.main = nil
	subs := m.subs
	m.subs = make(map[string]*Isolate)
	fn := m.onBroken
	m.onBroken = nil
	m.mu.Unlock()

	if main != nil {
		main.Close()
	}
	for _, iso := range subs {
		iso.Close()
	}

	m.logger.Warn("runtime broken, isolates dropped",
		zap.String("reason", reason),
		zap.Bool("had_main", main != nil),
		zap.Int("subs", len(subs)),
	)

	if fn != nil {
		fn(reason)
	}
}

// Runtime returns the managed runtime.
func (m *Manager) Runtime() *Runtime {
	return m.rt
}

// MainIsolate returns the main isolate, or nil.
func (m *Manager) MainIsolate() *Isolate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main
}

// SetMainIsolate replaces the main isolate. Passing nil empties the slot.
// A closed isolate leaves the slot on its own.
func (m *Manager) SetMainIsolate(iso *Isolate) {
	m.mu.Lock()
	m.main = iso
	m.mu.Unlock()
	if iso != nil {
		iso.onClose(m.forget)
	}
}

// SubIsolate returns the sub isolate registered under name.
func (m *Manager) SubIsolate(name string) (*Isolate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iso, ok := m.subs[name]
	return iso, ok
}

// AddSubIsolate registers iso under name, replacing any isolate already
// registered there. A closed isolate is unregistered on its own.
func (m *Manager) AddSubIsolate(name string, iso *Isolate) {
	m.mu.Lock()
	m.subs[name] = iso
	m.mu.Unlock()
	if iso != nil {
		iso.onClose(m.forget)
	}
}

// forget drops every registration of iso.
func (m *Manager) forget(iso *Isolate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.main == iso {
		m.main = nil
	}
	for name, sub := range m.subs {
		if sub == iso {
			delete(m.subs, name)
		}
	}
}

// RemoveSubIsolate unregisters and returns the isolate under name. The
// isolate is not closed.
func (m *Manager) RemoveSubIsolate(name string) (*Isolate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iso, ok := m.subs[name]
	delete(m.subs, name)
	return iso, ok
}

// ClearSubIsolates unregisters every sub isolate.
func (m *Manager) ClearSubIsolates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.subs)
}

// SubIsolates returns a copy of the sub isolate map.
func (m *Manager) SubIsolates() map[string]*Isolate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Isolate, len(m.subs))
	for name, iso := range m.subs {
		out[name] = iso
	}
	return out
}

// SubIsolateNames returns the registered names, sorted.
func (m *Manager) SubIsolateNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.subs))
	for name := range m.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasOnBroken reports whether an external broken callback is registered.
func (m *Manager) HasOnBroken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onBroken != nil
}

// SetOnBroken registers the external broken callback, replacing any
// previous one. It fires at most once.
func (m *Manager) SetOnBroken(fn BrokenFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBroken = fn
}

// ClearBytecodeCache clears the cache of the main isolate and every sub
// isolate.
func (m *Manager) ClearBytecodeCache() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.main != nil {
		m.main.ClearBytecodeCache()
	}
	for _, iso := range m.subs {
		iso.ClearBytecodeCache()
	}
	m.logger.Debug("bytecode caches cleared", zap.Int("subs", len(m.subs)))
}

// Close breaks the runtime, which drops every isolate.
func (m *Manager) Close() {
	m.rt.Close()
}
