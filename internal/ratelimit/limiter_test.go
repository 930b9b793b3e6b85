package ratelimit

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/warden/internal/fault"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *ManualClock) {
	t.Helper()
	clock := NewManualClock(epoch)
	l, err := New(cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return l, clock
}

func TestNewQuota(t *testing.T) {
	tests := []struct {
		name    string
		burst   int
		period  time.Duration
		wantErr error
	}{
		{"valid", 5, time.Minute, nil},
		{"zero period", 5, 0, ErrInvalidPeriod},
		{"negative period", 5, -time.Second, ErrInvalidPeriod},
		{"zero burst", 0, time.Second, ErrInvalidBurst},
		{"negative burst", -1, time.Second, ErrInvalidBurst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuota(tt.burst, tt.period)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.burst, q.Burst)
			assert.Equal(t, tt.period, q.Period)
		})
	}
}

func TestMustQuotaPanics(t *testing.T) {
	assert.Panics(t, func() { MustQuota(1, 0) })
	assert.NotPanics(t, func() { MustQuota(1, time.Second) })
}

func TestNewRejectsDegenerateQuota(t *testing.T) {
	_, err := New(Config{Global: []Quota{{Burst: 1, Period: 0}}})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = New(Config{Buckets: map[string][]Quota{"kv": {{Burst: 0, Period: time.Second}}}})
	assert.ErrorIs(t, err, ErrInvalidBurst)

	_, err = New(Config{Buckets: map[string][]Quota{"": {MustQuota(1, time.Second)}}})
	assert.Error(t, err)
}

func TestBurstThenRefill(t *testing.T) {
	const burst = 3
	period := 8 * time.Second

	l, clock := newTestLimiter(t, Config{
		Buckets: map[string][]Quota{"kv": {MustQuota(burst, period)}},
	})

	for i := 0; i < burst; i++ {
		require.NoError(t, l.Check("kv"), "call %d", i+1)
	}

	err := l.Check("kv")
	require.Error(t, err)
	assert.True(t, fault.IsRateLimited(err))

	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "kv", fe.Bucket)
	assert.Equal(t, TierBucket, fe.Tier)
	assert.Equal(t, period, fe.RetryAfter)

	clock.Advance(period / 2)
	assert.Error(t, l.Check("kv"), "admitted before the period elapsed")

	clock.Advance(period / 2)
	assert.NoError(t, l.Check("kv"))
	assert.Error(t, l.Check("kv"))
}

func TestUnknownBucketOnlyUsesGlobal(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Global: []Quota{MustQuota(2, time.Minute)},
	})

	assert.NoError(t, l.Check("anything"))
	assert.NoError(t, l.Check("other"))

	err := l.Check("third")
	require.Error(t, err)
	fe, _ := fault.As(err)
	assert.Equal(t, TierGlobal, fe.Tier)
}

func TestNoLimitersAdmitsEverything(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Check("kv"))
	}
}

func TestExemptBucketsSkipGlobalTier(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Global: []Quota{MustQuota(1, time.Hour)},
	})

	// Exhaust the global tier.
	require.NoError(t, l.Check("kv"))
	require.Error(t, l.Check("kv"))

	for _, bucket := range ExemptBuckets() {
		assert.NoError(t, l.Check(bucket), bucket)
		assert.NoError(t, l.Check(bucket), bucket)
	}
}

func TestExemptBucketsStillUseOwnTier(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Global:  []Quota{MustQuota(100, time.Second)},
		Buckets: map[string][]Quota{"download_file": {MustQuota(1, time.Minute)}},
	})

	require.NoError(t, l.Check("download_file"))
	err := l.Check("download_file")
	require.Error(t, err)
	fe, _ := fault.As(err)
	assert.Equal(t, TierBucket, fe.Tier)
}

func TestExemptList(t *testing.T) {
	assert.Equal(t, []string{"bulk_delete_messages", "download_file"}, ExemptBuckets())
	assert.True(t, IsExempt("download_file"))
	assert.False(t, IsExempt("kv"))
}

func TestDeniedCheckConsumesNothing(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Global:  []Quota{MustQuota(5, time.Minute), MustQuota(10, time.Hour)},
		Buckets: map[string][]Quota{"lockdowns": {MustQuota(1, time.Minute)}},
	})

	require.NoError(t, l.Check("lockdowns"))
	assert.Equal(t, 0, l.Available("lockdowns"))

	// The global tier admits, the bucket tier denies: the global tokens
	// reserved during this check must be returned.
	for i := 0; i < 10; i++ {
		require.Error(t, l.Check("lockdowns"))
	}

	// Four global tokens left (five minus the one admitted call).
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Check("other"), "global call %d", i+1)
	}
	assert.Error(t, l.Check("other"))
}

func TestGlobalTierProbedInOrder(t *testing.T) {
	var denials []string
	l, _ := newTestLimiter(t, Config{
		Global: []Quota{MustQuota(1, time.Second), MustQuota(1, time.Hour)},
	}, WithDenyHook(func(bucket, tier string, wait time.Duration) {
		denials = append(denials, tier+":"+wait.String())
	}))

	require.NoError(t, l.Check("a"))
	require.Error(t, l.Check("a"))

	// The first limiter denies first, so the wait is its one-second period.
	assert.Equal(t, []string{"global:1s"}, denials)
}

func TestAvailable(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Global:  []Quota{MustQuota(10, time.Second)},
		Buckets: map[string][]Quota{"kv": {MustQuota(3, time.Second)}},
	})

	assert.Equal(t, 3, l.Available("kv"))
	assert.Equal(t, 10, l.Available("other"))
	assert.Equal(t, math.MaxInt, l.Available("download_file"))

	require.NoError(t, l.Check("kv"))
	assert.Equal(t, 2, l.Available("kv"))
	assert.Equal(t, 9, l.Available("other"))

	clock.Advance(time.Second)
	assert.Equal(t, 3, l.Available("kv"))
	assert.True(t, l.HasBucket("kv"))
	assert.False(t, l.HasBucket("other"))
}

func TestConcurrentChecksNeverOverAdmit(t *testing.T) {
	const burst = 50
	l, _ := newTestLimiter(t, Config{
		Global:  []Quota{MustQuota(burst*2, time.Hour)},
		Buckets: map[string][]Quota{"kv": {MustQuota(burst, time.Hour)}},
	})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Check("kv")
			if err == nil {
				admitted.Add(1)
				return
			}
			if !errors.Is(err, fault.ErrRateLimited) {
				t.Errorf("Check() error = %v, want rate limited", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(burst), admitted.Load())
	// Denied checks returned their global tokens.
	assert.Equal(t, burst, l.Available("other"))
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(epoch)
	assert.Equal(t, epoch, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}
