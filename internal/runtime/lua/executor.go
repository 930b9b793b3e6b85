package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// call is one unit of work for the executor goroutine.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all Lua operations through a single goroutine.
//
// gopher-lua's LState is NOT goroutine-safe. Every operation on the state,
// including resuming coroutines, is queued here and run in submission order
// on the goroutine that called Run.
//
//	exec := NewExecutor(L, 0)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    return L.DoString(`x = 1`)
//	})
type Executor struct {
	L      *lua.LState
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	running   atomic.Bool

	onPanic func(error)
}

// NewExecutor creates a new Executor for the given Lua state.
// The queue size determines how many operations can be buffered.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Executor{
		L:      L,
		queue:  make(chan *call, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// OnPanic registers fn to be called, on the executor goroutine, with the
// error of every call that panicked. It must be called before Run.
func (e *Executor) OnPanic(fn func(error)) {
	e.onPanic = fn
}

// Run processes queued operations until ctx is cancelled or Close is
// called. Operations still queued at that point fail with the stop reason.
func (e *Executor) Run(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer close(e.exited)

	for {
		select {
		case <-ctx.Done():
			e.stop()
			e.drainQueue(ctx.Err())
			return
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.executeCall(c)
			close(c.result)
		}
	}
}

// executeCall runs a single Lua operation with panic recovery.
func (e *Executor) executeCall(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			if e.onPanic != nil {
				e.onPanic(err)
			}
		}
	}()
	return c.fn(e.L)
}

// drainQueue fails every queued call with err.
func (e *Executor) drainQueue(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor goroutine and waits for it to finish.
// It must not be called from the executor goroutine itself.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	c, err := e.enqueue(ctx, fn)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// The call stays queued and will still run.
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	case <-e.exited:
		// Run may have answered the call just before exiting.
		select {
		case err, ok := <-c.result:
			if ok {
				return err
			}
		default:
		}
		return ErrExecutorClosed
	}
}

// Post queues fn without waiting for it to run. It blocks only while the
// queue is full and fails once the executor is closed.
func (e *Executor) Post(fn func(L *lua.LState) error) error {
	_, err := e.enqueue(context.Background(), fn)
	return err
}

func (e *Executor) enqueue(ctx context.Context, fn func(L *lua.LState) error) (*call, error) {
	if e.closed.Load() {
		return nil, ErrExecutorClosed
	}

	c := &call{
		fn:     fn,
		result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrExecutorClosed
	case e.queue <- c:
		return c, nil
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.stop()
}

func (e *Executor) stop() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// Wait blocks until Run has returned. It returns immediately if Run was
// never started.
func (e *Executor) Wait() {
	if !e.running.Load() {
		return
	}
	<-e.exited
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
