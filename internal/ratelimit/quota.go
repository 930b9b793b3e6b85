package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Errors returned by quota construction.
var (
	// ErrInvalidPeriod is returned for a zero or negative refill period.
	ErrInvalidPeriod = errors.New("quota period must be positive")

	// ErrInvalidBurst is returned for a zero or negative burst.
	ErrInvalidBurst = errors.New("quota burst must be positive")
)

// Quota describes one token bucket: Burst calls may happen at once, and one
// token is returned every Period.
type Quota struct {
	Burst  int
	Period time.Duration
}

// NewQuota validates and returns a Quota.
func NewQuota(burst int, period time.Duration) (Quota, error) {
	q := Quota{Burst: burst, Period: period}
	if err := q.Validate(); err != nil {
		return Quota{}, err
	}
	return q, nil
}

// MustQuota is like NewQuota but panics on an invalid quota. Intended for
// static tables.
func MustQuota(burst int, period time.Duration) Quota {
	q, err := NewQuota(burst, period)
	if err != nil {
		panic(err)
	}
	return q
}

// Validate reports whether q can back a limiter.
func (q Quota) Validate() error {
	if q.Period <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, q.Period)
	}
	if q.Burst <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBurst, q.Burst)
	}
	return nil
}

// String returns a compact form like "5/1m0s".
func (q Quota) String() string {
	return fmt.Sprintf("%d/%s", q.Burst, q.Period)
}

func (q Quota) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(q.Period), q.Burst)
}
