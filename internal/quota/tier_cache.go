package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// tierLoadTimeout bounds a provider lookup shared by concurrent callers
const tierLoadTimeout = 5 * time.Second

type cachedTier struct {
	tier      core.TierInfo
	fetchedAt time.Time
}

// TierCache caches tenant tiers from a provider and refreshes them after an interval.
// A failed refresh keeps the previous tier; a tenant with no tier gets the default.
type TierCache struct {
	provider    core.TierProvider
	defaultTier core.TierInfo
	refresh     time.Duration
	tiers       sync.Map
	group       singleflight.Group
	logger      *zap.Logger
	now         func() time.Time
}

// NewTierCache creates a new tier cache
func NewTierCache(provider core.TierProvider, defaultTier core.TierInfo, refresh time.Duration, logger *zap.Logger) *TierCache {
	return &TierCache{
		provider:    provider,
		defaultTier: defaultTier,
		refresh:     refresh,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns the tier of a tenant
func (c *TierCache) Get(ctx context.Context, tenantID string) core.TierInfo {
	cached, ok := c.load(tenantID)
	if ok && c.now().Sub(cached.fetchedAt) < c.refresh {
		return cached.tier
	}

	v, _, _ := c.group.Do(tenantID, func() (interface{}, error) {
		if again, ok := c.load(tenantID); ok && c.now().Sub(again.fetchedAt) < c.refresh {
			return again.tier, nil
		}

		// The lookup is shared, so one caller's cancellation must not fail the others.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tierLoadTimeout)
		defer cancel()

		tier, err := c.provider.GetTier(lctx, tenantID)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrNotFound):
			tier = c.defaultTier
		case ok:
			c.logger.Warn("Failed to refresh tenant tier, keeping previous",
				zap.String("tenant", tenantID),
				zap.Error(err))
			return cached.tier, nil
		default:
			c.logger.Warn("Failed to load tenant tier, using default plan",
				zap.String("tenant", tenantID),
				zap.String("plan", c.defaultTier.Plan),
				zap.Error(err))
			return c.defaultTier, nil
		}

		c.tiers.Store(tenantID, cachedTier{tier: tier, fetchedAt: c.now()})
		return tier, nil
	})
	return v.(core.TierInfo)
}

// Invalidate drops a tenant's cached tier, e.g. after a plan change
func (c *TierCache) Invalidate(tenantID string) {
	c.tiers.Delete(tenantID)
}

func (c *TierCache) load(tenantID string) (cachedTier, bool) {
	v, ok := c.tiers.Load(tenantID)
	if !ok {
		return cachedTier{}, false
	}
	return v.(cachedTier), true
}
