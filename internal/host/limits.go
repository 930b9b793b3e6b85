package host

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/warden/internal/metrics"
	"github.com/dshills/warden/internal/ratelimit"
)

// limits charges provider calls against a tenant's limiter. A zero value
// admits everything.
type limits struct {
	lim *ratelimit.Limiter
}

func (l limits) AttemptAction(bucket string) error {
	if l.lim == nil {
		return nil
	}
	return l.lim.Check(bucket)
}

// newLimiter builds a tenant limiter that reports denials to m and logger.
func newLimiter(cfg ratelimit.Config, tenant string, m *metrics.Metrics, logger *zap.Logger) (*ratelimit.Limiter, error) {
	return ratelimit.New(cfg, ratelimit.WithDenyHook(func(bucket, tier string, wait time.Duration) {
		m.RecordDenial(bucket, tier)
		logger.Debug("rate limited",
			zap.String("tenant", tenant),
			zap.String("bucket", bucket),
			zap.String("tier", tier),
			zap.Duration("retry_after", wait),
		)
	}))
}
