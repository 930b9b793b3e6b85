package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/security"
)

const (
	kvSubsystem = "kv"
	kvMeta      = "kv.meta"
)

// KVModule implements @warden/kv.
//
// A keyed action is allowed by any of "kv:<action>", "kv:*",
// "kv:<action>:*" or "kv:<action>:<key>". Listing scopes and keys needs
// "kv.meta:list_scopes" and "kv.meta:keys".
type KVModule struct{}

// NewKVModule creates the kv module.
func NewKVModule() *KVModule {
	return &KVModule{}
}

// Name returns the module name.
func (m *KVModule) Name() string {
	return kvSubsystem
}

// Open builds the module table.
func (m *KVModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *KVModule) new(L *lua.LState) int {
	h := newHandle[provider.KVProvider](L, kvSubsystem, provider.Context.KVProvider)
	kv := &kvExecutor{h: h}

	L.Push(executor(L, h, map[string]lua.LGFunction{
		"list_scopes": kv.listScopes,
		"keys":        kv.keys,
		"find":        kv.find,
		"exists":      kv.exists,
		"get":         kv.get,
		"set":         kv.set,
		"delete":      kv.delete,
	}))
	return 1
}

type kvExecutor struct {
	h *provider.Handle[provider.KVProvider]
}

// keyed checks a keyed action, accepting the wildcard forms.
func (kv *kvExecutor) keyed(L *lua.LState, action, key string) {
	authorize(L, kv.h, action,
		security.Of(kvSubsystem, security.Wildcard),
		security.Of(kvSubsystem, action, security.Wildcard),
		security.Of(kvSubsystem, action, key),
	)
}

// kv:list_scopes() -> promise<{string}>
func (kv *kvExecutor) listScopes(L *lua.LState) int {
	authorizeExact(L, kv.h, "list_scopes", "list_scopes", security.Of(kvMeta, "list_scopes"))
	return push(L, kv.h.Op("list_scopes"), value(kv.h.Provider().ListScopes))
}

// kv:keys([scopes]) -> promise<{string}>
func (kv *kvExecutor) keys(L *lua.LState) int {
	scopes := optStrings(L, 2)
	authorizeExact(L, kv.h, "keys", "keys", security.Of(kvMeta, "keys"))
	p := kv.h.Provider()
	return push(L, kv.h.Op("keys"), value(func(ctx context.Context) ([]string, error) {
		return p.Keys(ctx, scopes)
	}))
}

// kv:find(query[, scopes]) -> promise<{record}>
func (kv *kvExecutor) find(L *lua.LState) int {
	query := L.CheckString(2)
	scopes := optStrings(L, 3)
	authorize(L, kv.h, "find",
		security.Of(kvSubsystem, security.Wildcard),
		security.Of(kvSubsystem, "find", security.Wildcard),
	)
	p := kv.h.Provider()
	return push(L, kv.h.Op("find"), value(func(ctx context.Context) ([]provider.KVRecord, error) {
		return p.Find(ctx, scopes, query)
	}))
}

// kv:exists(key[, scopes]) -> promise<bool>
func (kv *kvExecutor) exists(L *lua.LState) int {
	key := L.CheckString(2)
	scopes := optStrings(L, 3)
	kv.keyed(L, "exists", key)
	p := kv.h.Provider()
	return push(L, kv.h.Op("exists"), value(func(ctx context.Context) (bool, error) {
		return p.Exists(ctx, scopes, key)
	}))
}

// kv:get(key[, scopes]) -> promise<record>
//
// A missing key resolves to a record with exists = false.
func (kv *kvExecutor) get(L *lua.LState) int {
	key := L.CheckString(2)
	scopes := optStrings(L, 3)
	kv.keyed(L, "get", key)
	p := kv.h.Provider()
	return push(L, kv.h.Op("get"), value(func(ctx context.Context) (provider.KVRecord, error) {
		return p.Get(ctx, scopes, key)
	}))
}

// kv:set(key, value[, scopes]) -> promise<{exists, id}>
func (kv *kvExecutor) set(L *lua.LState) int {
	key := L.CheckString(2)
	val := toGo(L, 3)
	scopes := optStrings(L, 4)
	kv.keyed(L, "set", key)
	p := kv.h.Provider()
	return push(L, kv.h.Op("set"), value(func(ctx context.Context) (provider.KVSetResult, error) {
		return p.Set(ctx, scopes, key, val)
	}))
}

// kv:delete(key[, scopes]) -> promise<nil>
func (kv *kvExecutor) delete(L *lua.LState) int {
	key := L.CheckString(2)
	scopes := optStrings(L, 3)
	kv.keyed(L, "delete", key)
	p := kv.h.Provider()
	return push(L, kv.h.Op("delete"), done(func(ctx context.Context) error {
		return p.Delete(ctx, scopes, key)
	}))
}
