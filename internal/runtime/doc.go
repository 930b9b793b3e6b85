// Package runtime runs untrusted tenant scripts in isolates.
//
// A Runtime owns one sandboxed Lua state and the single goroutine allowed to
// touch it. Isolates share the state but each has its own global table,
// capability allow-list and bytecode cache. A Manager owns a Runtime and
// the isolates built on it and drops them all when the runtime breaks.
//
// # Spawning
//
//	rt, err := runtime.New(runtime.WithModules(reg.Modules()...))
//	if err != nil {
//	    return err
//	}
//	m := runtime.NewManager(rt)
//	iso, err := rt.NewIsolate(security.MustSet("lockdown:qsl"))
//	if err != nil {
//	    return err
//	}
//	m.SetMainIsolate(iso)
//	values, err := iso.Spawn(ctx, "lockdown.lua", src, hostCtx)
//
// # Promises
//
// Module methods check the capability and charge the rate limit before
// returning a promise. A script awaits it with await(p) or p:await(); the
// coroutine is suspended, the operation runs on its own goroutine and the
// coroutine is resumed on the executor goroutine with the result. Other
// coroutines keep running in the meantime. A promise resolves exactly once
// and can be awaited once.
//
// # Broken runtimes
//
// A runtime breaks when the VM runs out of registry space or when it is
// closed. Broken is terminal: pending spawns fail with a RuntimeBroken
// fault, suspended coroutines are never resumed and new work is refused.
package runtime
