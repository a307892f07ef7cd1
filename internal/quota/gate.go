package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// defaultWindow applies to tiers without a positive window length
const defaultWindow = 24 * time.Hour

// Gate admits tenant requests against fixed-window budgets derived from their tier.
// Windows are aligned to multiples of the window length since the Unix epoch.
type Gate struct {
	tiers   *TierCache
	counter Counter
	logger  *zap.Logger
	now     func() time.Time
}

// NewGate creates a new quota gate
func NewGate(tiers *TierCache, counter Counter, logger *zap.Logger) *Gate {
	return &Gate{
		tiers:   tiers,
		counter: counter,
		logger:  logger,
		now:     time.Now,
	}
}

func window(tier core.TierInfo) time.Duration {
	if w := tier.Window(); w > 0 {
		return w
	}
	return defaultWindow
}

// Admit consumes one unit of the tenant's budget or fails with ErrQuotaExceeded
func (g *Gate) Admit(ctx context.Context, tenantID string) (*core.Admission, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", core.ErrInvalidRequest)
	}

	tier := g.tiers.Get(ctx, tenantID)
	w := window(tier)
	start := core.WindowStart(g.now(), w)

	count, admitted, err := g.counter.Increment(ctx, tenantID, start, w, tier.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count admission: %w", err)
	}

	if !admitted {
		g.logger.Info("Tenant quota exhausted",
			zap.String("tenant", tenantID),
			zap.String("plan", tier.Plan),
			zap.Int("limit", tier.Limit),
			zap.Time("window_start", start))
		return nil, fmt.Errorf("%w: tenant %s used %d of %d requests", core.ErrQuotaExceeded, tenantID, count, tier.Limit)
	}

	return &core.Admission{
		TenantID:    tenantID,
		WindowStart: start,
		Used:        count,
		Limit:       tier.Limit,
	}, nil
}

// Usage reports the tenant's consumption in the current window
func (g *Gate) Usage(ctx context.Context, tenantID string) (*core.QuotaUsage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", core.ErrInvalidRequest)
	}

	tier := g.tiers.Get(ctx, tenantID)
	w := window(tier)
	start := core.WindowStart(g.now(), w)

	used, err := g.counter.Peek(ctx, tenantID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	state := core.TenantQuotaState{TenantID: tenantID, WindowStart: start, Count: used, Limit: tier.Limit}
	remaining := -1
	if !tier.Unlimited() {
		remaining = max(tier.Limit-used, 0)
	}

	return &core.QuotaUsage{
		TenantID:    tenantID,
		Plan:        tier.Plan,
		State:       state.State(),
		Used:        used,
		Limit:       tier.Limit,
		Remaining:   remaining,
		WindowStart: start,
		WindowEnd:   start.Add(w),
	}, nil
}
