package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/warden/internal/provider"
)

func TestOpenStoreRequiresDSN(t *testing.T) {
	_, err := OpenStore("", nil)
	assert.Error(t, err)
}

func TestKVRoundTrip(t *testing.T) {
	ctx := testCtx(t)
	h := newTestHost(t)
	kv := h.Tenant("t1").kv

	rec, err := kv.Get(ctx, []string{"settings"}, "greeting")
	require.NoError(t, err)
	assert.False(t, rec.Exists)
	assert.Equal(t, "greeting", rec.Key)

	first, err := kv.Set(ctx, []string{"settings"}, "greeting", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, first.Exists)
	assert.NotEmpty(t, first.ID)

	second, err := kv.Set(ctx, []string{"settings"}, "greeting", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, second.Exists)
	assert.Equal(t, first.ID, second.ID, "overwrites keep the id")

	rec, err = kv.Get(ctx, []string{"settings"}, "greeting")
	require.NoError(t, err)
	assert.True(t, rec.Exists)
	assert.Equal(t, map[string]any{"text": "hi"}, rec.Value)
	assert.Equal(t, []string{"settings"}, rec.Scopes)
	require.NotNil(t, rec.CreatedAt)
	require.NotNil(t, rec.LastUpdatedAt)
	assert.False(t, rec.LastUpdatedAt.Before(*rec.CreatedAt))

	ok, err := kv.Exists(ctx, []string{"settings"}, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, kv.Delete(ctx, []string{"settings"}, "greeting"))
	ok, err = kv.Exists(ctx, []string{"settings"}, "greeting")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVScopesAndKeys(t *testing.T) {
	ctx := testCtx(t)
	h := newTestHost(t)
	kv := h.Tenant("t1").kv

	for _, w := range []struct {
		scopes []string
		key    string
	}{
		{[]string{"b", "a"}, "zeta"},
		{[]string{"a", "b"}, "alpha"},
		{[]string{"c"}, "alpha"},
		{nil, "root"},
	} {
		_, err := kv.Set(ctx, w.scopes, w.key, 1)
		require.NoError(t, err)
	}
	_, err := h.Tenant("t2").kv.Set(ctx, []string{"other"}, "x", 1)
	require.NoError(t, err)

	scopes, err := kv.ListScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, scopes)

	keys, err := kv.Keys(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, keys, "scope order is not significant")

	keys, err = kv.Keys(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, keys)

	found, err := kv.Find(ctx, []string{"a", "b"}, "al%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alpha", found[0].Key)
	assert.Equal(t, float64(1), found[0].Value)
}

func TestKVRejectsUnstorableValue(t *testing.T) {
	ctx := testCtx(t)
	kv := newTestHost(t).Tenant("t1").kv

	_, err := kv.Set(ctx, nil, "fn", func() {})
	assert.ErrorContains(t, err, "not storable")
}

func TestStoreClosed(t *testing.T) {
	ctx := testCtx(t)
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.kvGet(ctx, "t1", nil, "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.TakeDue(ctx, time.Now())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestGlobalKVVersions(t *testing.T) {
	ctx := testCtx(t)
	h := newTestHost(t)
	s := h.Store()

	v1, err := s.PublishGlobal(ctx, provider.GlobalKVRecord{Key: "motd", Scope: "public", OwnerID: "t9", Public: true, Data: "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	v2, err := s.PublishGlobal(ctx, provider.GlobalKVRecord{Key: "motd", Scope: "public", OwnerID: "t9", Public: true, Data: "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	_, err = s.PublishGlobal(ctx, provider.GlobalKVRecord{Key: "hidden", Scope: "public", OwnerID: "t9", Data: "x"})
	require.NoError(t, err)
	_, err = s.PublishGlobal(ctx, provider.GlobalKVRecord{Key: "motd"})
	assert.Error(t, err)

	g := h.Tenant("t1").globalKV

	latest, err := g.Get(ctx, "motd", 0, "public")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "two", latest.Data)
	assert.True(t, latest.Public)

	first, err := g.Get(ctx, "motd", 1, "public")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "one", first.Data)

	missing, err := g.Get(ctx, "motd", 1, "partners")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := g.List(ctx, "%", "public")
	require.NoError(t, err)
	require.Len(t, list, 1, "only public keys are listed")
	assert.Equal(t, 2, list[0].Version)
}

func TestScheduledExecStore(t *testing.T) {
	ctx := testCtx(t)
	h := newTestHost(t)
	sched := h.Tenant("t1").sched
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Add(ctx, provider.ScheduledExecution{ID: "late", TemplateName: "remind", RunAt: base.Add(time.Hour)}))
	require.NoError(t, sched.Add(ctx, provider.ScheduledExecution{ID: "soon", TemplateName: "remind", Data: map[string]any{"n": 1}, RunAt: base}))
	require.NoError(t, h.Tenant("t2").sched.Add(ctx, provider.ScheduledExecution{ID: "soon", TemplateName: "other", RunAt: base}))

	all, err := sched.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "soon", all[0].ID)
	assert.Equal(t, base, all[0].RunAt)
	assert.Equal(t, map[string]any{"n": float64(1)}, all[0].Data)

	one, err := sched.List(ctx, "late")
	require.NoError(t, err)
	require.Len(t, one, 1)

	// Re-adding replaces.
	require.NoError(t, sched.Add(ctx, provider.ScheduledExecution{ID: "late", TemplateName: "remind2", RunAt: base.Add(2 * time.Hour)}))
	one, err = sched.List(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "remind2", one[0].TemplateName)

	due, err := h.Store().TakeDue(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, []string{"t1", "t2"}, []string{due[0].TenantID, due[1].TenantID})

	due, err = h.Store().TakeDue(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, due, "taken executions do not come back")

	require.NoError(t, sched.Remove(ctx, "late"))
	assert.ErrorContains(t, sched.Remove(ctx, "late"), "not found")
}
