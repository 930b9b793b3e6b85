// Package ratelimit enforces keyed token-bucket quotas.
//
// A Limiter has two tiers. The global tier applies to every bucket except
// the exempt ones; the per-bucket tier applies only to the bucket it is
// registered under. A call is admitted only if every limiter that applies
// admits it, and a denied call consumes nothing.
package ratelimit

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/warden/internal/fault"
)

// Tier names reported in RateLimited errors.
const (
	TierGlobal = "global"
	TierBucket = "bucket"
)

// exemptBuckets are long-running bulk operations that already pay for
// themselves in their own bucket and must not double-charge the global tier.
var exemptBuckets = map[string]bool{
	"bulk_delete_messages": true,
	"download_file":        true,
}

// IsExempt reports whether bucket skips the global tier.
func IsExempt(bucket string) bool {
	return exemptBuckets[bucket]
}

// ExemptBuckets returns the exempt bucket names, sorted.
func ExemptBuckets() []string {
	names := make([]string, 0, len(exemptBuckets))
	for name := range exemptBuckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config lists the quotas of both tiers.
type Config struct {
	// Global limiters, probed in order for every non-exempt bucket.
	Global []Quota

	// Buckets maps a bucket name to its own limiters, probed in order.
	Buckets map[string][]Quota
}

// DenyFunc is notified of every denial.
type DenyFunc func(bucket, tier string, wait time.Duration)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used to timestamp reservations.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithDenyHook registers fn to be called on every denial.
func WithDenyHook(fn DenyFunc) Option {
	return func(l *Limiter) {
		l.onDeny = fn
	}
}

// Limiter is a two-tier keyed rate limiter. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	clock   Clock
	global  []*rate.Limiter
	buckets map[string][]*rate.Limiter
	onDeny  DenyFunc
}

// New builds a Limiter from cfg. Every quota is validated; a degenerate
// quota fails construction.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		clock:   SystemClock{},
		buckets: make(map[string][]*rate.Limiter, len(cfg.Buckets)),
	}
	for _, opt := range opts {
		opt(l)
	}

	for i, q := range cfg.Global {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("global quota %d: %w", i, err)
		}
		l.global = append(l.global, q.newLimiter())
	}

	for bucket, quotas := range cfg.Buckets {
		if bucket == "" {
			return nil, fmt.Errorf("bucket name must not be empty")
		}
		lims := make([]*rate.Limiter, 0, len(quotas))
		for i, q := range quotas {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("bucket %q quota %d: %w", bucket, i, err)
			}
			lims = append(lims, q.newLimiter())
		}
		l.buckets[bucket] = lims
	}

	return l, nil
}

// Check admits one call against bucket or returns a *fault.Error of kind
// RateLimited naming the bucket, the denying tier and the wait time.
func (l *Limiter) Check(bucket string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var held []*rate.Reservation

	release := func() {
		for _, r := range held {
			r.CancelAt(now)
		}
	}

	probe := func(lims []*rate.Limiter, tier string) error {
		for _, lim := range lims {
			r := lim.ReserveN(now, 1)
			if !r.OK() {
				release()
				return l.deny(bucket, tier, 0)
			}
			if wait := r.DelayFrom(now); wait > 0 {
				r.CancelAt(now)
				release()
				return l.deny(bucket, tier, wait)
			}
			held = append(held, r)
		}
		return nil
	}

	if !IsExempt(bucket) {
		if err := probe(l.global, TierGlobal); err != nil {
			return err
		}
	}
	return probe(l.buckets[bucket], TierBucket)
}

func (l *Limiter) deny(bucket, tier string, wait time.Duration) error {
	if l.onDeny != nil {
		l.onDeny(bucket, tier, wait)
	}
	return fault.RateLimited(bucket, tier, wait)
}

// Available returns how many calls against bucket would be admitted right
// now: the minimum whole-token count across every limiter that applies.
// math.MaxInt means no limiter applies.
func (l *Limiter) Available(bucket string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	avail := math.MaxInt

	visit := func(lims []*rate.Limiter) {
		for _, lim := range lims {
			n := int(math.Floor(lim.TokensAt(now)))
			if n < avail {
				avail = n
			}
		}
	}

	if !IsExempt(bucket) {
		visit(l.global)
	}
	visit(l.buckets[bucket])

	if avail < 0 {
		return 0
	}
	return avail
}

// HasBucket reports whether a per-bucket tier is registered for bucket.
func (l *Limiter) HasBucket(bucket string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.buckets[bucket]
	return ok
}
