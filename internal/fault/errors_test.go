package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindAuthorizationDenied, "authorization_denied"},
		{KindRateLimited, "rate_limited"},
		{KindProviderUnavailable, "provider_unavailable"},
		{KindDomainError, "domain_error"},
		{KindRuntimeBroken, "runtime_broken"},
		{KindInvariantViolation, "invariant_violation"},
		{Kind(99), "kind(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestOnlyRateLimitedIsRetryable(t *testing.T) {
	for _, k := range Kinds() {
		assert.Equal(t, k == KindRateLimited, k.Retryable(), k.String())
	}
}

func TestErrorMessage(t *testing.T) {
	err := Denied("lockdown.qsl", "lockdown:qsl")
	assert.Equal(t, `lockdown.qsl: capability "lockdown:qsl" is required`, err.Error())

	rl := RateLimited("lockdowns", "bucket", 30*time.Second)
	assert.Equal(t, `rate limit exceeded (bucket "lockdowns", retry after 30s)`, rl.Error())

	wrapped := Domain("kv.get", errors.New("connection reset"))
	assert.Equal(t, "kv.get: connection reset", wrapped.Error())

	bare := &Error{Kind: KindRuntimeBroken}
	assert.Equal(t, "runtime_broken", bare.Error())
}

func TestSentinelsMatchByKind(t *testing.T) {
	err := fmt.Errorf("calling provider: %w", RateLimited("kv", "global", time.Second))

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrAuthorizationDenied))
	assert.True(t, IsRateLimited(err))
	assert.True(t, Retryable(err))

	wait, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, time.Second, wait)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindDomainError, "op", nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Domain("page.set", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsDomain(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindProviderUnavailable, KindOf(Unavailable("kv", "this_tenant")))
	assert.Equal(t, KindRuntimeBroken, KindOf(Broken("closed")))
	assert.True(t, IsProviderUnavailable(Unavailable("kv", "owner_tenant")))
	assert.True(t, IsRuntimeBroken(Broken("x")))
	assert.True(t, IsAuthorizationDenied(Denied("a", "b")))
}

func TestRetryAfterWrongKind(t *testing.T) {
	_, ok := RetryAfter(Denied("op", "cap"))
	assert.False(t, ok)
}

func TestInvariantPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*Error)
		require.True(t, ok, "panic value should be *Error, got %T", r)
		assert.Equal(t, KindInvariantViolation, fe.Kind)
	}()
	Invariant("runtime.NewManager", "runtime already owned")
}
