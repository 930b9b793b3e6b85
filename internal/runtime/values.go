package runtime

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/provider"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
)

// Type metatable names in the Lua registry.
const (
	promiseTypeName = "warden.promise"
	faultTypeName   = "warden.fault"
	contextTypeName = "warden.ctx"
)

func registerTypes(L *lua.LState, await *lua.LFunction) {
	fmeta := L.NewTypeMetatable(faultTypeName)
	fmeta.RawSetString("__index", L.NewFunction(faultIndex))
	fmeta.RawSetString("__tostring", L.NewFunction(faultString))
	fmeta.RawSetString("__metatable", lua.LString("locked"))

	cmt := L.NewTypeMetatable(contextTypeName)
	cmt.RawSetString("__index", L.NewFunction(contextIndex))
	cmt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("ctx is read-only")
		return 0
	}))
	cmt.RawSetString("__metatable", lua.LString("locked"))

	pmt := L.NewTypeMetatable(promiseTypeName)
	pmt.RawSetString("__tostring", L.NewFunction(promiseString))
	pmt.RawSetString("__metatable", lua.LString("locked"))
	methods := L.NewTable()
	methods.RawSetString("await", await)
	pmt.RawSetString("__index", methods)
}

// FaultValue converts err to the userdata scripts see as an error. Errors
// that are not faults are classified as domain errors of op.
func FaultValue(L *lua.LState, op string, err error) lua.LValue {
	fe, ok := fault.As(err)
	if !ok {
		fe = fault.Domain(op, err)
	} else if fe.Op == "" && op != "" {
		cp := *fe
		cp.Op = op
		fe = &cp
	}
	ud := L.NewUserData()
	ud.Value = fe
	L.SetMetatable(ud, L.GetTypeMetatable(faultTypeName))
	return ud
}

// RaiseFault raises err as a script error. It does not return.
func RaiseFault(L *lua.LState, op string, err error) {
	L.Error(FaultValue(L, op, err), 1)
}

// faultOf extracts the fault carried by a script error value.
func faultOf(lv lua.LValue) (*fault.Error, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	fe, ok := ud.Value.(*fault.Error)
	return fe, ok
}

func checkFault(L *lua.LState) *fault.Error {
	fe, ok := faultOf(L.CheckUserData(1))
	if !ok {
		L.ArgError(1, "error value expected")
	}
	return fe
}

func faultIndex(L *lua.LState) int {
	fe := checkFault(L)
	switch L.CheckString(2) {
	case "kind":
		L.Push(lua.LString(fe.Kind.String()))
	case "message":
		L.Push(lua.LString(fe.Error()))
	case "op":
		L.Push(lua.LString(fe.Op))
	case "bucket":
		if fe.Bucket == "" {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(fe.Bucket))
		}
	case "retry_after":
		if fe.RetryAfter > 0 {
			L.Push(lua.LNumber(fe.RetryAfter.Seconds()))
		} else {
			L.Push(lua.LNil)
		}
	case "retryable":
		L.Push(lua.LBool(fe.Kind.Retryable()))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func faultString(L *lua.LState) int {
	L.Push(lua.LString(checkFault(L).Error()))
	return 1
}

// ScriptContext is the ctx value a spawned script receives as its first
// argument. Modules build provider handles from it.
type ScriptContext struct {
	// Provider is the host context of the invocation.
	Provider provider.Context

	// Caps is the effective capability set: the invocation's allowed
	// capabilities, already checked to be within the isolate's.
	Caps security.Set

	// Isolate runs the invocation.
	Isolate *Isolate
}

// CheckScriptContext returns the ScriptContext at stack position n or
// raises an argument error.
func CheckScriptContext(L *lua.LState, n int) *ScriptContext {
	ud := L.CheckUserData(n)
	sc, ok := ud.Value.(*ScriptContext)
	if !ok {
		L.ArgError(n, "ctx expected")
	}
	return sc
}

func newContextValue(L *lua.LState, sc *ScriptContext) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = sc
	L.SetMetatable(ud, L.GetTypeMetatable(contextTypeName))
	return ud
}

func contextIndex(L *lua.LState) int {
	sc := CheckScriptContext(L, 1)
	pctx := sc.Provider

	switch L.CheckString(2) {
	case "tenant_id":
		L.Push(lua.LString(pctx.TenantID()))
	case "owner_tenant_id":
		L.Push(lua.LString(provider.ScopeOwnerTenant.TenantID(pctx)))
	case "current_user":
		if u := pctx.CurrentUser(); u != "" {
			L.Push(lua.LString(u))
		} else {
			L.Push(lua.LNil)
		}
	case "isolate_id":
		L.Push(lua.LString(sc.Isolate.ID()))
	case "allowed_caps":
		L.Push(plua.NewBridge(L).ToLuaValue(sc.Caps.Strings()))
	case "data":
		L.Push(plua.NewBridge(L).ToLuaValue(pctx.Data()))
	case "has_cap":
		L.Push(L.NewFunction(contextHasCap))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ctx:has_cap(c) -> bool
func contextHasCap(L *lua.LState) int {
	sc := CheckScriptContext(L, 1)
	L.Push(lua.LBool(sc.Caps.Has(security.Capability(L.CheckString(2)))))
	return 1
}
