package runtime

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/warden/internal/fault"
)

func TestNewManagerPanicsOnDoubleWrap(t *testing.T) {
	rt, _ := newTestRuntime(t)
	NewManager(rt)

	defer func() {
		r := recover()
		require.NotNil(t, r, "second NewManager over the same runtime must panic")
		fe, ok := r.(*fault.Error)
		require.True(t, ok, "panic value = %#v", r)
		assert.Equal(t, fault.KindInvariantViolation, fe.Kind)
	}()
	NewManager(rt)
}

func TestNewManagerPanicsOnForeignCallback(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.SetOnBroken(func(string) {})

	assert.Panics(t, func() { NewManager(rt) })
}

func TestManagerMainIsolate(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)
	assert.Same(t, rt, m.Runtime())
	assert.Nil(t, m.MainIsolate())

	a := newTestIsolate(t, rt)
	b := newTestIsolate(t, rt)

	m.SetMainIsolate(a)
	assert.Same(t, a, m.MainIsolate())

	m.SetMainIsolate(b)
	assert.Same(t, b, m.MainIsolate())

	m.SetMainIsolate(nil)
	assert.Nil(t, m.MainIsolate())
}

func TestManagerSubIsolates(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)

	a := newTestIsolate(t, rt)
	b := newTestIsolate(t, rt)

	m.AddSubIsolate("a", a)
	m.AddSubIsolate("b", b)

	got, ok := m.SubIsolate("a")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"a", "b"}, m.SubIsolateNames())

	// SubIsolates returns a copy.
	snapshot := m.SubIsolates()
	delete(snapshot, "a")
	_, ok = m.SubIsolate("a")
	assert.True(t, ok)

	removed, ok := m.RemoveSubIsolate("a")
	require.True(t, ok)
	assert.Same(t, a, removed)
	assert.False(t, removed.IsBroken(), "remove does not close the isolate")
	_, ok = m.SubIsolate("a")
	assert.False(t, ok)

	_, ok = m.RemoveSubIsolate("a")
	assert.False(t, ok)

	m.ClearSubIsolates()
	assert.Empty(t, m.SubIsolates())
}

func TestAddSubIsolateOverwrites(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)

	old := newTestIsolate(t, rt)
	replacement := newTestIsolate(t, rt)

	m.AddSubIsolate("worker", old)
	m.AddSubIsolate("worker", replacement)

	got, ok := m.SubIsolate("worker")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Len(t, m.SubIsolates(), 1)
	for _, iso := range m.SubIsolates() {
		assert.NotSame(t, old, iso)
	}
}

func TestManagerBrokenTransitionIsIdempotent(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var calls atomic.Int32
	var sawMain *Isolate
	var sawSubs int
	var m *Manager
	m = NewManager(rt, WithOnBroken(func(reason string) {
		calls.Add(1)
		sawMain = m.MainIsolate()
		sawSubs = len(m.SubIsolates())
		assert.Equal(t, "vm fault", reason)
	}))

	main := newTestIsolate(t, rt)
	sub1 := newTestIsolate(t, rt)
	sub2 := newTestIsolate(t, rt)
	m.SetMainIsolate(main)
	m.AddSubIsolate("one", sub1)
	m.AddSubIsolate("two", sub2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.MarkBroken("vm fault")
		}()
	}
	wg.Wait()
	rt.MarkBroken("again")

	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, sawMain, "main must be cleared before the callback runs")
	assert.Zero(t, sawSubs, "subs must be cleared before the callback runs")
	assert.Nil(t, m.MainIsolate())
	assert.Empty(t, m.SubIsolates())
	assert.Equal(t, "vm fault", rt.Reason())

	for _, iso := range []*Isolate{main, sub1, sub2} {
		assert.True(t, iso.IsBroken())
	}
}

func TestManagerSetOnBrokenReplaces(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)
	assert.False(t, m.HasOnBroken())

	var first, second atomic.Int32
	m.SetOnBroken(func(string) { first.Add(1) })
	m.SetOnBroken(func(string) { second.Add(1) })
	assert.True(t, m.HasOnBroken())

	m.Close()
	m.Close()

	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.False(t, m.HasOnBroken(), "callback is consumed when it fires")
}

func TestManagerClearBytecodeCache(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)

	main := newTestIsolate(t, rt)
	sub := newTestIsolate(t, rt)
	m.SetMainIsolate(main)
	m.AddSubIsolate("sub", sub)

	ctx := testCtx(t)
	for _, iso := range []*Isolate{main, sub} {
		for i := 0; i < 2; i++ {
			_, err := iso.Spawn(ctx, "script.lua", `return 1`, nil)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, iso.CacheLen())
		assert.Equal(t, int64(1), iso.Compilations())
	}

	m.ClearBytecodeCache()

	for _, iso := range []*Isolate{main, sub} {
		assert.Zero(t, iso.CacheLen())

		_, err := iso.Spawn(ctx, "script.lua", `return 1`, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), iso.Compilations(), "cleared cache must force recompilation")
	}
}

func TestRuntimeSetOnBrokenAfterBreak(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.MarkBroken("gone")

	var got string
	rt.SetOnBroken(func(reason string) { got = reason })
	assert.Equal(t, "gone", got)
	assert.False(t, rt.HasOnBroken())
}

func TestClosedIsolateLeavesManager(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)

	main := newTestIsolate(t, rt)
	a := newTestIsolate(t, rt)
	b := newTestIsolate(t, rt)
	m.SetMainIsolate(main)
	m.AddSubIsolate("a", a)
	m.AddSubIsolate("alias", a)
	m.AddSubIsolate("b", b)

	a.Close()
	_, ok := m.SubIsolate("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, m.SubIsolateNames())

	main.Close()
	assert.Nil(t, m.MainIsolate())

	// A removed isolate no longer affects the manager when it closes.
	got, ok := m.RemoveSubIsolate("b")
	require.True(t, ok)
	m.AddSubIsolate("b", newTestIsolate(t, rt))
	got.Close()
	_, ok = m.SubIsolate("b")
	assert.True(t, ok)
	assert.False(t, rt.IsBroken())
}

func TestAddClosedIsolate(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := NewManager(rt)

	iso := newTestIsolate(t, rt)
	iso.Close()

	m.SetMainIsolate(iso)
	m.AddSubIsolate("closed", iso)
	assert.Nil(t, m.MainIsolate())
	assert.Empty(t, m.SubIsolates())
}

func TestNewManagerConcurrentClaim(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var (
		wg     sync.WaitGroup
		owners atomic.Int32
		panics atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if recover() != nil {
					panics.Add(1)
				}
			}()
			NewManager(rt)
			owners.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), owners.Load())
	assert.Equal(t, int32(15), panics.Load())
}
