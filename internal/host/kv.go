package host

import (
	"context"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/provider"
)

// KV is one tenant's key-value storage backed by the Store.
type KV struct {
	limits
	store  *Store
	tenant string
}

func (k *KV) ListScopes(ctx context.Context) ([]string, error) {
	return k.store.kvListScopes(ctx, k.tenant)
}

func (k *KV) Keys(ctx context.Context, scopes []string) ([]string, error) {
	return k.store.kvKeys(ctx, k.tenant, scopes)
}

func (k *KV) Find(ctx context.Context, scopes []string, query string) ([]provider.KVRecord, error) {
	return k.store.kvFind(ctx, k.tenant, scopes, query)
}

func (k *KV) Exists(ctx context.Context, scopes []string, key string) (bool, error) {
	rec, err := k.store.kvGet(ctx, k.tenant, scopes, key)
	if err != nil {
		return false, err
	}
	return rec.Exists, nil
}

func (k *KV) Get(ctx context.Context, scopes []string, key string) (provider.KVRecord, error) {
	return k.store.kvGet(ctx, k.tenant, scopes, key)
}

// Set writes value. New keys get a fresh id; overwrites keep theirs.
func (k *KV) Set(ctx context.Context, scopes []string, key string, value any) (provider.KVSetResult, error) {
	return k.store.kvSet(ctx, k.tenant, scopes, key, value, uuid.NewString())
}

func (k *KV) Delete(ctx context.Context, scopes []string, key string) error {
	return k.store.kvDelete(ctx, k.tenant, scopes, key)
}

var _ provider.KVProvider = (*KV)(nil)
