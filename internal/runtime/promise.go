package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Task is the host side of a promise. It runs on its own goroutine with a
// context that is cancelled when the awaiting script is torn down.
type Task func(ctx context.Context) (any, error)

// outcome is the settled value of a promise.
type outcome struct {
	value any
	err   error
}

// Promise is a pending host operation a script can await. It is created by
// a module method after its capability and rate-limit checks pass, and its
// task starts only when the script awaits it.
type Promise struct {
	op      string
	task    Task
	awaited atomic.Bool

	once   sync.Once
	result chan outcome
}

// NewPromise wraps task in a promise userdata. op names the operation in
// errors.
func NewPromise(L *lua.LState, op string, task Task) *lua.LUserData {
	p := &Promise{
		op:     op,
		task:   task,
		result: make(chan outcome, 1),
	}
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, L.GetTypeMetatable(promiseTypeName))
	return ud
}

// Resolved returns a promise that settles with v.
func Resolved(L *lua.LState, op string, v any) *lua.LUserData {
	return NewPromise(L, op, func(context.Context) (any, error) { return v, nil })
}

// Op returns the operation name.
func (p *Promise) Op() string { return p.op }

// claim marks the promise awaited. Only the first claim succeeds.
func (p *Promise) claim() bool {
	return p.awaited.CompareAndSwap(false, true)
}

// run executes the task and settles the promise with its outcome.
func (p *Promise) run(ctx context.Context) {
	v, err := p.call(ctx)
	p.settle(outcome{value: v, err: err})
}

func (p *Promise) call(ctx context.Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", p.op, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.task(ctx)
}

// settle delivers o. The channel holds one value and is closed after the
// first settle, so a promise resolves exactly once.
func (p *Promise) settle(o outcome) {
	p.once.Do(func() {
		p.result <- o
		close(p.result)
	})
}

// promiseOf returns the promise carried by lv.
func promiseOf(lv lua.LValue) (*Promise, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	p, ok := ud.Value.(*Promise)
	return p, ok
}

// IsPromise reports whether lv is a promise.
func IsPromise(lv lua.LValue) bool {
	_, ok := promiseOf(lv)
	return ok
}

func promiseString(L *lua.LState) int {
	p, ok := promiseOf(L.CheckUserData(1))
	if !ok {
		L.ArgError(1, "promise expected")
		return 0
	}
	state := "pending"
	if p.awaited.Load() {
		state = "awaited"
	}
	L.Push(lua.LString(fmt.Sprintf("promise<%s, %s>", p.op, state)))
	return 1
}
