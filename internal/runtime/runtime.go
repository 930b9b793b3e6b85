package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/logging"
	"github.com/dshills/warden/internal/metrics"
	plua "github.com/dshills/warden/internal/runtime/lua"
)

// ModulePrefix is the require prefix of registered modules.
const ModulePrefix = "@warden/"

// awaitSource is compiled once per runtime. Resuming with (true, value)
// returns value; (false, err) re-raises err in the awaiting script.
const awaitSource = `
local yield = coroutine.yield
return function(p)
	local ok, v = yield(p)
	if not ok then
		error(v, 2)
	end
	return v
end
`

// Module is a library scripts load with require("@warden/<name>").
type Module interface {
	// Name returns the module name without the prefix.
	Name() string

	// Open builds the module table. It runs on the executor goroutine once
	// per isolate that requires the module.
	Open(L *lua.LState) *lua.LTable
}

// BrokenFunc is called once when a runtime becomes broken.
type BrokenFunc func(reason string)

// Runtime owns one gopher-lua state and the goroutine that runs it. All
// isolates of a runtime share the state; each has its own global
// environment.
type Runtime struct {
	state  *plua.State
	exec   *plua.Executor
	bridge *plua.Bridge
	await  *lua.LFunction

	modules map[string]Module

	ctx    context.Context
	cancel context.CancelFunc

	logger  *zap.Logger
	metrics *metrics.Metrics

	queueSize int
	stateOpts []plua.StateOption

	mu       sync.Mutex
	onBroken BrokenFunc
	reason   string
	broken   atomic.Bool
	stopped  chan struct{}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(rt *Runtime) {
		rt.metrics = m
	}
}

// WithModules registers modules scripts can require. A later module with
// the same name replaces an earlier one.
func WithModules(mods ...Module) Option {
	return func(rt *Runtime) {
		for _, m := range mods {
			rt.modules[m.Name()] = m
		}
	}
}

// WithQueueSize sets the executor queue size.
func WithQueueSize(n int) Option {
	return func(rt *Runtime) {
		rt.queueSize = n
	}
}

// WithStateOptions passes options to the underlying Lua state.
func WithStateOptions(opts ...plua.StateOption) Option {
	return func(rt *Runtime) {
		rt.stateOpts = append(rt.stateOpts, opts...)
	}
}

// New creates a runtime and starts its executor goroutine.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		modules: make(map[string]Module),
		logger:  zap.NewNop(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}

	state, err := plua.NewState(rt.stateOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating lua state: %w", err)
	}
	rt.state = state
	L := state.LuaState()
	rt.bridge = plua.NewBridge(L)

	// The executor is not running yet, so L may be used directly.
	if rt.await, err = compileAwait(L); err != nil {
		state.Close()
		return nil, err
	}
	registerTypes(L, rt.await)

	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	rt.exec = plua.NewExecutor(L, rt.queueSize)
	rt.exec.OnPanic(func(err error) {
		rt.MarkBroken("interpreter fault: " + err.Error())
	})
	go rt.run()

	return rt, nil
}

func compileAwait(L *lua.LState) (*lua.LFunction, error) {
	proto, err := plua.Compile("await", awaitSource)
	if err != nil {
		return nil, err
	}
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("loading await: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	fn, ok := ret.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("loading await: unexpected %s", ret.Type())
	}
	return fn, nil
}

func (rt *Runtime) run() {
	defer close(rt.stopped)
	rt.exec.Run(rt.ctx)
	rt.state.Close()
}

// Context returns a context that is cancelled when the runtime breaks.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *zap.Logger {
	return rt.logger
}

// Metrics returns the metrics collector, which may be nil.
func (rt *Runtime) Metrics() *metrics.Metrics {
	return rt.metrics
}

// IsBroken reports whether the runtime has broken or been closed.
func (rt *Runtime) IsBroken() bool {
	return rt.broken.Load()
}

// Reason returns why the runtime broke, or "" while healthy.
func (rt *Runtime) Reason() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reason
}

// Err returns a RuntimeBroken fault once the runtime is broken, nil before.
func (rt *Runtime) Err() error {
	if !rt.IsBroken() {
		return nil
	}
	return fault.Broken(rt.Reason())
}

// HasOnBroken reports whether a broken callback is registered.
func (rt *Runtime) HasOnBroken() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.onBroken != nil
}

// SetOnBroken registers the single broken callback, replacing any previous
// one. The callback is consumed when it fires. On a runtime that is
// already broken fn is called immediately.
func (rt *Runtime) SetOnBroken(fn BrokenFunc) {
	rt.mu.Lock()
	if rt.broken.Load() {
		reason := rt.reason
		rt.mu.Unlock()
		if fn != nil {
			fn(reason)
		}
		return
	}
	rt.onBroken = fn
	rt.mu.Unlock()
}

// claimOnBroken installs fn unless a broken callback is already
// registered, and reports whether it did. On a broken runtime fn is
// called immediately.
func (rt *Runtime) claimOnBroken(fn BrokenFunc) bool {
	rt.mu.Lock()
	if rt.onBroken != nil {
		rt.mu.Unlock()
		return false
	}
	if rt.broken.Load() {
		reason := rt.reason
		rt.mu.Unlock()
		fn(reason)
		return true
	}
	rt.onBroken = fn
	rt.mu.Unlock()
	return true
}

// MarkBroken moves the runtime to the broken state. Only the first call
// has any effect: it stops the executor, cancels Context and fires the
// broken callback on the calling goroutine. The callback must not wait for
// the executor.
func (rt *Runtime) MarkBroken(reason string) {
	rt.mu.Lock()
	if !rt.broken.CompareAndSwap(false, true) {
		rt.mu.Unlock()
		return
	}
	rt.reason = reason
	fn := rt.onBroken
	rt.onBroken = nil
	rt.mu.Unlock()

	rt.cancel()
	rt.exec.Close()
	rt.metrics.RuntimeBroken()
	rt.logger.Warn("runtime broken", zap.String("reason", reason))

	if fn != nil {
		fn(reason)
	}
}

// Close shuts the runtime down. It is a broken transition with reason
// "closed" and is safe to call more than once.
func (rt *Runtime) Close() {
	rt.MarkBroken("closed")
}

// Wait blocks until the executor goroutine has exited and the Lua state is
// closed.
func (rt *Runtime) Wait() {
	<-rt.stopped
}

// module returns the registered module for a require name.
func (rt *Runtime) module(name string) (Module, bool) {
	short, ok := strings.CutPrefix(name, ModulePrefix)
	if !ok {
		return nil, false
	}
	m, ok := rt.modules[short]
	return m, ok
}

// execute runs fn on the executor goroutine. It fails fast once the
// runtime is broken.
func (rt *Runtime) execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if err := rt.Err(); err != nil {
		return err
	}
	if err := rt.exec.Execute(ctx, fn); err != nil {
		if brokenErr := rt.Err(); brokenErr != nil {
			return brokenErr
		}
		return err
	}
	return nil
}

// post queues fn on the executor goroutine without waiting.
func (rt *Runtime) post(fn func(L *lua.LState)) error {
	return rt.exec.Post(func(L *lua.LState) error {
		fn(L)
		return nil
	})
}
