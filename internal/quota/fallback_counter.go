package quota

import (
	"context"
	"time"

	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

// FallbackCounter uses a primary counter and switches to a secondary one for any call
// the primary fails. Counts taken by the secondary are local to this process.
type FallbackCounter struct {
	primary   Counter
	secondary Counter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewFallbackCounter creates a new fallback counter
func NewFallbackCounter(primary, secondary Counter, m *metrics.Metrics, logger *zap.Logger) *FallbackCounter {
	return &FallbackCounter{
		primary:   primary,
		secondary: secondary,
		metrics:   m,
		logger:    logger,
	}
}

// Increment consumes one unit on the primary, or on the secondary if the primary fails
func (c *FallbackCounter) Increment(ctx context.Context, tenantID string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	count, ok, err := c.primary.Increment(ctx, tenantID, windowStart, window, limit)
	if err == nil {
		return count, ok, nil
	}

	c.metrics.QuotaFallback()
	c.logger.Warn("Quota counter unavailable, counting locally",
		zap.String("tenant", tenantID),
		zap.Error(err))
	return c.secondary.Increment(ctx, tenantID, windowStart, window, limit)
}

// Peek reads from the primary, or from the secondary if the primary fails
func (c *FallbackCounter) Peek(ctx context.Context, tenantID string, windowStart time.Time) (int, error) {
	count, err := c.primary.Peek(ctx, tenantID, windowStart)
	if err == nil {
		return count, nil
	}
	c.logger.Warn("Quota counter unavailable, reading local count",
		zap.String("tenant", tenantID),
		zap.Error(err))
	return c.secondary.Peek(ctx, tenantID, windowStart)
}

// Stop stops whichever of the counters run background work
func (c *FallbackCounter) Stop() {
	for _, counter := range []Counter{c.primary, c.secondary} {
		if s, ok := counter.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
}
