package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
)

// cacheEntry is a compiled script. The source is kept so a changed script
// under the same name is recompiled.
type cacheEntry struct {
	source string
	proto  *lua.FunctionProto
}

// Isolate is one sandboxed execution environment: a private global table,
// a capability allow-list and a bytecode cache, on top of a shared
// Runtime. An isolate is unusable once closed or once its runtime breaks.
type Isolate struct {
	id   string
	rt   *Runtime
	caps security.Set

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// env and loaded are only touched on the executor goroutine.
	env    *lua.LTable
	loaded map[string]lua.LValue

	mu           sync.Mutex
	cache        map[string]cacheEntry
	compilations atomic.Int64
	closeHooks   []func(*Isolate)

	logger *zap.Logger
}

// IsolateOption configures an Isolate.
type IsolateOption func(*isolateConfig)

type isolateConfig struct {
	globals map[string]any
	name    string
}

// WithGlobals sets extra read-only values in the isolate's globals.
func WithGlobals(globals map[string]any) IsolateOption {
	return func(c *isolateConfig) {
		c.globals = globals
	}
}

// WithName labels the isolate in logs.
func WithName(name string) IsolateOption {
	return func(c *isolateConfig) {
		c.name = name
	}
}

// NewIsolate creates an isolate limited to caps. It must not be called from
// a script callback.
func (rt *Runtime) NewIsolate(caps security.Set, opts ...IsolateOption) (*Isolate, error) {
	var cfg isolateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	iso := &Isolate{
		id:     uuid.NewString(),
		rt:     rt,
		caps:   caps,
		loaded: make(map[string]lua.LValue),
		cache:  make(map[string]cacheEntry),
	}
	iso.ctx, iso.cancel = context.WithCancel(rt.ctx)

	fields := []zap.Field{zap.String("isolate", iso.id)}
	if cfg.name != "" {
		fields = append(fields, zap.String("name", cfg.name))
	}
	iso.logger = rt.logger.With(fields...)

	err := rt.execute(rt.ctx, func(L *lua.LState) error {
		iso.env = iso.buildEnv(L, cfg.globals)
		return nil
	})
	if err != nil {
		iso.cancel()
		return nil, err
	}

	rt.metrics.IsolateOpened()
	iso.logger.Debug("isolate created", zap.Strings("caps", caps.Strings()))
	return iso, nil
}

func (iso *Isolate) buildEnv(L *lua.LState, globals map[string]any) *lua.LTable {
	sb := iso.rt.state.Sandbox()
	env := sb.NewEnvironment()

	env.RawSetString("await", iso.rt.await)
	env.RawSetString("require", L.NewFunction(iso.require))
	env.RawSetString("print", L.NewFunction(iso.print))

	for k, v := range globals {
		lv := iso.rt.bridge.ToLuaValue(v)
		if t, ok := lv.(*lua.LTable); ok {
			lv = sb.ReadOnly(t)
		}
		env.RawSetString(k, lv)
	}
	return env
}

// require(name) -> module
// Only registered "@warden/<name>" modules resolve.
func (iso *Isolate) require(L *lua.LState) int {
	name := L.CheckString(1)
	if mod, ok := iso.loaded[name]; ok {
		L.Push(mod)
		return 1
	}

	m, ok := iso.rt.module(name)
	if !ok {
		L.RaiseError("%v: %q", ErrModuleNotFound, name)
		return 0
	}
	tbl := iso.rt.state.Sandbox().ReadOnly(m.Open(L))
	iso.loaded[name] = tbl
	L.Push(tbl)
	return 1
}

// print(...) writes to the isolate logger.
func (iso *Isolate) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	iso.logger.Info("script output", zap.String("msg", strings.Join(parts, "\t")))
	return 0
}

// ID returns the isolate's random identifier.
func (iso *Isolate) ID() string { return iso.id }

// Runtime returns the runtime the isolate runs on.
func (iso *Isolate) Runtime() *Runtime { return iso.rt }

// Capabilities returns the isolate's allow-list.
func (iso *Isolate) Capabilities() security.Set { return iso.caps }

// IsBroken reports whether the isolate rejects execution, either because
// it was closed or because its runtime broke.
func (iso *Isolate) IsBroken() bool {
	return iso.closed.Load() || iso.rt.IsBroken()
}

// Err returns why the isolate is unusable, or nil.
func (iso *Isolate) Err() error {
	if err := iso.rt.Err(); err != nil {
		return err
	}
	if iso.closed.Load() {
		return ErrIsolateClosed
	}
	return nil
}

// Close marks the isolate closed and cancels its outstanding operations.
// Suspended scripts are never resumed. Close is safe to call from any
// goroutine, including a broken callback.
func (iso *Isolate) Close() {
	if !iso.closed.CompareAndSwap(false, true) {
		return
	}
	iso.cancel()
	iso.rt.metrics.IsolateClosed()
	iso.logger.Debug("isolate closed")

	iso.mu.Lock()
	hooks := iso.closeHooks
	iso.closeHooks = nil
	iso.mu.Unlock()
	for _, fn := range hooks {
		fn(iso)
	}
}

// onClose registers fn to run once the isolate is closed. On a closed
// isolate fn runs immediately.
func (iso *Isolate) onClose(fn func(*Isolate)) {
	iso.mu.Lock()
	if iso.closed.Load() {
		iso.mu.Unlock()
		fn(iso)
		return
	}
	iso.closeHooks = append(iso.closeHooks, fn)
	iso.mu.Unlock()
}

// ClearBytecodeCache drops every compiled script.
func (iso *Isolate) ClearBytecodeCache() {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	clear(iso.cache)
}

// CacheLen returns the number of cached compiled scripts.
func (iso *Isolate) CacheLen() int {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return len(iso.cache)
}

// Compilations returns how many times a script was compiled, i.e. the
// number of cache misses.
func (iso *Isolate) Compilations() int64 {
	return iso.compilations.Load()
}

func (iso *Isolate) compile(name, source string) (*lua.FunctionProto, error) {
	iso.mu.Lock()
	entry, ok := iso.cache[name]
	iso.mu.Unlock()
	if ok && entry.source == source {
		return entry.proto, nil
	}

	proto, err := plua.Compile(name, source)
	if err != nil {
		return nil, err
	}
	iso.compilations.Add(1)
	iso.rt.metrics.Compiled()

	iso.mu.Lock()
	iso.cache[name] = cacheEntry{source: source, proto: proto}
	iso.mu.Unlock()
	return proto, nil
}

// Spawn runs code as a new coroutine in the isolate and waits for it to
// finish. The script receives a ctx value followed by args. While the
// script awaits a promise the executor keeps running other coroutines.
//
// Spawn fails with an AuthorizationDenied fault when pctx allows a
// capability the isolate does not. If the isolate is closed or its runtime
// breaks before the script finishes, Spawn returns ErrIsolateClosed or a
// RuntimeBroken fault and the script is never resumed.
func (iso *Isolate) Spawn(ctx context.Context, name, code string, pctx provider.Context, args ...any) ([]any, error) {
	if err := iso.Err(); err != nil {
		return nil, err
	}
	if pctx == nil {
		pctx = provider.UnimplementedContext{}
	}

	caps, err := security.NewSet(pctx.AllowedCaps()...)
	if err != nil {
		return nil, fault.Wrap(fault.KindAuthorizationDenied, "spawn", err)
	}
	if err := caps.SubsetOf(iso.caps); err != nil {
		return nil, fault.Wrap(fault.KindAuthorizationDenied, "spawn", err)
	}

	t := newTask(ctx, iso, name, &ScriptContext{
		Provider: pctx,
		Caps:     caps,
		Isolate:  iso,
	})

	if err := iso.rt.post(func(L *lua.LState) { t.start(L, code, args) }); err != nil {
		t.finish(nil, iso.errOr(err))
	}

	var res result
	select {
	case res = <-t.done:
	case <-ctx.Done():
		t.abandon()
		res = result{err: ctx.Err()}
	case <-iso.ctx.Done():
		t.abandon()
		res = result{err: iso.errOr(fault.Broken("isolate torn down"))}
	}

	iso.rt.metrics.RecordSpawn(res.err)
	iso.rt.metrics.RecordFault(res.err)
	if res.err != nil {
		iso.logger.Debug("spawn failed", zap.String("script", name), zap.Error(res.err))
	}
	return res.values, res.err
}

// errOr returns the isolate's error, or err while the isolate is usable.
func (iso *Isolate) errOr(err error) error {
	if ierr := iso.Err(); ierr != nil {
		return ierr
	}
	return err
}

func (iso *Isolate) String() string {
	return fmt.Sprintf("isolate(%s)", iso.id)
}
