package host

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/metrics"
	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/ratelimit"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNewValidatesQuotas(t *testing.T) {
	_, err := New(newTestStore(t), WithQuotas(ratelimit.Config{
		Buckets: map[string][]ratelimit.Quota{"qsl": {{}}},
	}))
	assert.Error(t, err)
}

func TestTenantsAreCreatedOnce(t *testing.T) {
	h := newTestHost(t)

	a := h.Tenant("b")
	assert.Same(t, a, h.Tenant("b"))
	h.Tenant("a")
	assert.Equal(t, []string{"a", "b"}, h.Tenants())
	assert.Nil(t, a.Limiter(), "no quotas, no limiter")

	a.AddMember(provider.Member{UserID: "u1"})
	a.AddMember(provider.Member{UserID: "u2"})
	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.TotalTenants)
	assert.Equal(t, uint64(2), stats.TotalUsers)
	assert.False(t, stats.LastStartedAt.IsZero())
}

func TestTenantLimiterIsPerTenant(t *testing.T) {
	m := metrics.New()
	h := newTestHost(t, WithMetrics(m), WithQuotas(ratelimit.Config{
		Buckets: map[string][]ratelimit.Quota{
			"qsl": {ratelimit.MustQuota(1, time.Hour)},
		},
	}))

	t1, t2 := h.Tenant("t1"), h.Tenant("t2")
	require.NotNil(t, t1.Limiter())
	assert.NotSame(t, t1.Limiter(), t2.Limiter())

	require.NoError(t, t1.lockdowns.AttemptAction("qsl"))
	err := t1.lockdowns.AttemptAction("qsl")
	require.Error(t, err)
	assert.True(t, fault.IsRateLimited(err))
	assert.NoError(t, t2.lockdowns.AttemptAction("qsl"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDenials.WithLabelValues("qsl", ratelimit.TierBucket)))
}

func TestContextScopes(t *testing.T) {
	h := newTestHost(t)

	c := h.NewContext("guest",
		WithOwner("owner"),
		WithUser("u1"),
		WithCaps("kv:get"),
		WithData(map[string]any{"k": "v"}),
	)
	assert.Equal(t, "guest", c.TenantID())
	assert.Equal(t, "owner", c.OwnerTenantID())
	assert.Equal(t, "u1", c.CurrentUser())
	assert.Equal(t, []string{"kv:get"}, c.AllowedCaps())
	assert.Equal(t, map[string]any{"k": "v"}, c.Data())

	this, ok := c.KVProvider(provider.ScopeThisTenant)
	require.True(t, ok)
	owner, ok := c.KVProvider(provider.ScopeOwnerTenant)
	require.True(t, ok)
	assert.Same(t, h.Tenant("guest").kv, this)
	assert.Same(t, h.Tenant("owner").kv, owner)

	// Without an owner the owner scope is the tenant itself.
	solo := h.NewContext("guest")
	p, ok := solo.LockdownProvider(provider.ScopeOwnerTenant)
	require.True(t, ok)
	assert.Same(t, h.Tenant("guest").lockdowns, p)
}

func TestContextWithoutSubsystems(t *testing.T) {
	h := newTestHost(t)
	c := h.NewContext("t1", WithoutSubsystems(SubsystemDiscord, SubsystemKV))

	_, ok := c.DiscordProvider(provider.ScopeThisTenant)
	assert.False(t, ok)
	_, ok = c.KVProvider(provider.ScopeThisTenant)
	assert.False(t, ok)

	checks := []bool{}
	_, ok = c.GlobalKVProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.UserInfoProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.StingProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.ScheduledExecProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.PageProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.ObjectStorageProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	_, ok = c.RuntimeProvider(provider.ScopeThisTenant)
	checks = append(checks, ok)
	assert.Equal(t, []bool{true, true, true, true, true, true, true}, checks)

	_, ok = h.NewContext("").KVProvider(provider.ScopeThisTenant)
	assert.False(t, ok, "a context without a tenant has no providers")
}
