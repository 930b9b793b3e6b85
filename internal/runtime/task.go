package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/metrics"
)

// result is what Spawn returns.
type result struct {
	values []any
	err    error
}

// task is one spawned script: a coroutine plus the promise it is waiting
// on, if any. Fields below the executor-only marker are touched only on the
// executor goroutine.
type task struct {
	rt   *Runtime
	iso  *Isolate
	name string
	sc   *ScriptContext

	// ctx is cancelled when the task finishes, is abandoned or its isolate
	// is torn down. Promise tasks and the coroutine itself run under it.
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	abandoned  atomic.Bool
	finishOnce sync.Once
	done       chan result

	// executor-only
	co      *lua.LState
	fn      *lua.LFunction
	args    []lua.LValue
	started bool
}

func newTask(parent context.Context, iso *Isolate, name string, sc *ScriptContext) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{
		rt:     iso.rt,
		iso:    iso,
		name:   name,
		sc:     sc,
		ctx:    ctx,
		cancel: cancel,
		stop:   context.AfterFunc(iso.ctx, cancel),
		done:   make(chan result, 1),
	}
}

// start compiles the script and runs it up to its first suspension.
func (t *task) start(L *lua.LState, code string, args []any) {
	if t.halted() {
		return
	}

	proto, err := t.iso.compile(t.name, code)
	if err != nil {
		t.finish(nil, err)
		return
	}
	fn := L.NewFunctionFromProto(proto)
	fn.Env = t.iso.env

	co, _ := L.NewThread()
	co.SetContext(t.ctx)

	t.co = co
	t.fn = fn
	t.args = make([]lua.LValue, 0, len(args)+1)
	t.args = append(t.args, newContextValue(L, t.sc))
	for _, a := range args {
		t.args = append(t.args, t.rt.bridge.ToLuaValue(a))
	}

	t.step(L)
}

// step resumes the coroutine with args and handles how it stops.
func (t *task) step(L *lua.LState, args ...lua.LValue) {
	if t.halted() {
		return
	}

	var fn *lua.LFunction
	if !t.started {
		fn, args = t.fn, t.args
		t.started = true
	}

	st, err, vals := L.Resume(t.co, fn, args...)
	switch st {
	case lua.ResumeOK:
		t.finish(t.toGo(vals), nil)
	case lua.ResumeError:
		t.fail(err)
	case lua.ResumeYield:
		t.yielded(vals)
	}
}

// yielded schedules the next step. A yielded promise is started and the
// coroutine resumes when it settles; any other yield is cooperative and
// the coroutine is requeued behind pending work. Requeueing happens off
// the executor goroutine so a full queue cannot block it.
func (t *task) yielded(vals []lua.LValue) {
	var first lua.LValue = lua.LNil
	if len(vals) > 0 {
		first = vals[0]
	}

	p, ok := promiseOf(first)
	switch {
	case !ok:
		go t.requeue()
	case !p.claim():
		go t.requeue(lua.LFalse, lua.LString(ErrPromiseAwaited.Error()))
	default:
		go t.await(p)
	}
}

func (t *task) requeue(args ...lua.LValue) {
	err := t.rt.post(func(L *lua.LState) { t.step(L, args...) })
	if err != nil {
		t.finish(nil, t.iso.errOr(err))
	}
}

// await runs the promise task and hands its outcome to the executor.
func (t *task) await(p *Promise) {
	p.run(t.ctx)

	err := t.rt.post(func(L *lua.LState) { t.deliver(L, p) })
	if err != nil {
		t.rt.metrics.RecordPromise(metrics.PromiseDiscarded)
		t.finish(nil, t.iso.errOr(err))
	}
}

// deliver resumes the coroutine with a settled promise. The outcome is
// dropped if the script was torn down while it waited.
func (t *task) deliver(L *lua.LState, p *Promise) {
	o := <-p.result

	if t.abandoned.Load() || t.iso.IsBroken() {
		t.rt.metrics.RecordPromise(metrics.PromiseDiscarded)
		t.halted()
		return
	}

	if o.err != nil {
		t.rt.metrics.RecordPromise(metrics.PromiseRejected)
		t.step(L, lua.LFalse, FaultValue(L, p.op, o.err))
		return
	}
	t.rt.metrics.RecordPromise(metrics.PromiseResolved)
	t.step(L, lua.LTrue, t.rt.bridge.ToLuaValue(o.value))
}

// fail finishes the task with the error a coroutine died with.
func (t *task) fail(err error) {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if fe, ok := faultOf(apiErr.Object); ok {
			t.finish(nil, fe)
			return
		}
	}

	if ctxErr := t.ctx.Err(); ctxErr != nil {
		t.finish(nil, t.iso.errOr(ctxErr))
		return
	}
	t.finish(nil, fmt.Errorf("%s: %w", t.name, err))
}

// halted reports whether the task must not run further, finishing it if
// its isolate became unusable.
func (t *task) halted() bool {
	if t.abandoned.Load() {
		return true
	}
	if err := t.iso.Err(); err != nil {
		t.finish(nil, err)
		return true
	}
	return false
}

// finish delivers the task result once and releases its context.
func (t *task) finish(values []any, err error) {
	t.finishOnce.Do(func() {
		t.done <- result{values: values, err: err}
		t.cancel()
		t.stop()
	})
}

// abandon is called when Spawn stops waiting. The coroutine is never
// resumed again.
func (t *task) abandon() {
	t.abandoned.Store(true)
	t.finish(nil, context.Canceled)
}

// toGo converts a coroutine's return values. A lone nil, which is also what
// a script without a return statement produces, converts to no values.
func (t *task) toGo(vals []lua.LValue) []any {
	if len(vals) == 1 && vals[0] == lua.LNil {
		return nil
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = t.rt.bridge.ToGoValue(v)
	}
	return out
}
