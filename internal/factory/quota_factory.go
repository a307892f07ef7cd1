package factory

import (
	"fmt"

	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/quota"
	"github.com/mikey/phishguard/internal/tenant"
	"go.uber.org/zap"
)

// QuotaFactory creates the tenant tier provider and the quota gate based on configuration
type QuotaFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *RedisFactory
}

// NewQuotaFactory creates a new quota factory
func NewQuotaFactory(cfg *config.Config, logger *zap.Logger, redis *RedisFactory) *QuotaFactory {
	return &QuotaFactory{
		cfg:    cfg,
		logger: logger,
		redis:  redis,
	}
}

// CreateTierProvider creates the tier source named by tenants.source
func (f *QuotaFactory) CreateTierProvider() (core.TierProvider, error) {
	tenantsCfg, err := f.cfg.GetTenants()
	if err != nil {
		return nil, err
	}

	switch tenantsCfg.Source {
	case "static":
		plans, err := f.cfg.GetPlans()
		if err != nil {
			return nil, fmt.Errorf("invalid plans: %w", err)
		}
		assignments := make(map[string]string, len(tenantsCfg.Assignments))
		for _, a := range tenantsCfg.Assignments {
			assignments[a.Tenant] = a.Plan
		}
		return tenant.NewStaticProvider(plans, assignments, tenantsCfg.DefaultPlan)
	case "sql":
		return tenant.NewSQLProvider(tenantsCfg.Driver, tenantsCfg.DSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported tenant source: %s", tenantsCfg.Source)
	}
}

// CreateCounter creates the window counter named by quota.backend. A Redis counter falls back
// to an in-process counter when Redis fails. In-process counters sweep ended windows every
// quota.sweep_interval until stopped.
func (f *QuotaFactory) CreateCounter(m *metrics.Metrics) (quota.Counter, error) {
	quotaCfg, err := f.cfg.GetQuota()
	if err != nil {
		return nil, fmt.Errorf("invalid quota configuration: %w", err)
	}

	switch quotaCfg.Backend {
	case "memory":
		local := quota.NewMemoryCounter()
		local.StartSweep(quotaCfg.SweepInterval)
		return local, nil
	case "redis":
		local := quota.NewMemoryCounter()
		local.StartSweep(quotaCfg.SweepInterval)
		return quota.NewFallbackCounter(
			quota.NewRedisCounter(f.redis.Client()),
			local,
			m,
			f.logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported quota backend: %s", quotaCfg.Backend)
	}
}

// CreateGate creates the quota gate. Tenants the provider does not know get the default plan.
func (f *QuotaFactory) CreateGate(provider core.TierProvider, counter quota.Counter) (*quota.Gate, error) {
	quotaCfg, err := f.cfg.GetQuota()
	if err != nil {
		return nil, fmt.Errorf("invalid quota configuration: %w", err)
	}
	tenantsCfg, err := f.cfg.GetTenants()
	if err != nil {
		return nil, err
	}
	plans, err := f.cfg.GetPlans()
	if err != nil {
		return nil, fmt.Errorf("invalid plans: %w", err)
	}

	defaultTier, ok := plans[tenantsCfg.DefaultPlan]
	if !ok {
		return nil, fmt.Errorf("default plan %q is not configured", tenantsCfg.DefaultPlan)
	}

	tiers := quota.NewTierCache(provider, defaultTier, quotaCfg.TierRefresh, f.logger)
	return quota.NewGate(tiers, counter, f.logger), nil
}
