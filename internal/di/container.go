package di

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phishguard/internal/aggregate"
	"github.com/mikey/phishguard/internal/classifier"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/factory"
	"github.com/mikey/phishguard/internal/features"
	"github.com/mikey/phishguard/internal/logging"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/normalize"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/quota"
	"github.com/mikey/phishguard/internal/verdictcache"
	"github.com/mikey/phishguard/internal/whitelist"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics registry with runtime collectors
	if err := container.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(func() io.Writer { return os.Stdout }); err != nil {
		return nil, err
	}

	if err := provideAnalysis(container); err != nil {
		return nil, err
	}

	return container, nil
}

// provideAnalysis registers everything from the metrics down to the email filter.
// The container must already provide *config.Config, *zap.Logger, *prometheus.Registry and io.Writer.
func provideAnalysis(container *dig.Container) error {
	// Register metrics
	if err := container.Provide(func(reg *prometheus.Registry) (*metrics.Metrics, error) {
		return metrics.New(reg)
	}); err != nil {
		return err
	}

	// Register factories
	for _, ctor := range []any{
		factory.NewRedisFactory,
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewQuotaFactory,
		factory.NewFilterFactory,
	} {
		if err := container.Provide(ctor); err != nil {
			return err
		}
	}

	// Register trusted domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *whitelist.Checker {
		return whitelist.NewChecker(cfg.GetTrustedDomains(), logger)
	}); err != nil {
		return err
	}

	// Register scoring backend and classifier
	if err := container.Provide(func(f *factory.LLMFactory) (core.ScoringBackend, error) {
		return f.CreateBackend()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.LLMFactory, backend core.ScoringBackend, m *metrics.Metrics) (*classifier.Adapter, error) {
		return f.CreateClassifier(backend, m)
	}); err != nil {
		return err
	}

	// Register verdict cache
	if err := container.Provide(func(f *factory.CacheFactory) (core.VerdictStore, error) {
		return f.CreateVerdictStore()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.CacheFactory, store core.VerdictStore, m *metrics.Metrics) (*verdictcache.Cache, error) {
		return f.CreateVerdictCache(store, m)
	}); err != nil {
		return err
	}

	// Register quota gate
	if err := container.Provide(func(f *factory.QuotaFactory) (core.TierProvider, error) {
		return f.CreateTierProvider()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.QuotaFactory, m *metrics.Metrics) (quota.Counter, error) {
		return f.CreateCounter(m)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.QuotaFactory, provider core.TierProvider, counter quota.Counter) (*quota.Gate, error) {
		return f.CreateGate(provider, counter)
	}); err != nil {
		return err
	}

	// Register analysis service
	if err := container.Provide(func(
		gate *quota.Gate,
		checker *whitelist.Checker,
		adapter *classifier.Adapter,
		cache *verdictcache.Cache,
		m *metrics.Metrics,
		logger *zap.Logger,
	) *core.AnalysisService {
		return core.NewAnalysisService(
			gate,
			normalize.NewNormalizer(logger),
			normalize.Fingerprint,
			features.NewExtractor(checker),
			adapter,
			aggregate.NewAggregator(),
			cache,
			m,
			logger,
		)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(s *core.AnalysisService) ports.Analyzer { return s }); err != nil {
		return err
	}

	// Register email filter
	if err := container.Provide(func(f *factory.FilterFactory, reg *prometheus.Registry, out io.Writer) (ports.EmailFilter, error) {
		return f.CreateEmailFilter(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), out)
	}); err != nil {
		return err
	}

	return nil
}

// Resources groups what must be released on shutdown
type Resources struct {
	dig.In

	Logger   *zap.Logger
	Filter   ports.EmailFilter
	Backend  core.ScoringBackend
	Cache    *verdictcache.Cache
	Counter  quota.Counter
	Provider core.TierProvider
	Redis    *factory.RedisFactory
}

// Close stops the cache, which closes its store, and the quota counter sweep, then releases the backend, provider and Redis connections
func (r Resources) Close() {
	r.Cache.Stop()
	if s, ok := r.Counter.(interface{ Stop() }); ok {
		s.Stop()
	}

	closers := []struct {
		name string
		res  any
	}{
		{"backend", r.Backend},
		{"provider", r.Provider},
	}
	for _, c := range closers {
		if closer, ok := c.res.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				r.Logger.Error("Failed to close resource", zap.String("resource", c.name), zap.Error(err))
			}
		}
	}

	if err := r.Redis.Close(); err != nil {
		r.Logger.Error("Failed to close Redis client", zap.Error(err))
	}
}
