package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/phishguard/internal/adapters/cache"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/verdictcache"
	"go.uber.org/zap"
)

// CacheFactory creates the verdict cache and its second-tier store based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *RedisFactory
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger, redis *RedisFactory) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
		redis:  redis,
	}
}

// CreateVerdictStore creates the second-tier store named by cache.store. It returns nil for "none".
func (f *CacheFactory) CreateVerdictStore() (core.VerdictStore, error) {
	cacheCfg, err := f.cfg.GetCache()
	if err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	switch cacheCfg.Store {
	case "", "none":
		return nil, nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(cacheCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return cache.NewSQLiteStore(cacheCfg.SQLitePath, f.logger)
	case "mysql":
		return cache.NewMySQLStore(cacheCfg.MySQLDSN, f.logger)
	case "redis":
		return cache.NewRedisStore(f.redis.Client(), f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache store: %s", cacheCfg.Store)
	}
}

// CreateVerdictCache creates the fingerprint cache in front of store, which may be nil
func (f *CacheFactory) CreateVerdictCache(store core.VerdictStore, m *metrics.Metrics) (*verdictcache.Cache, error) {
	cacheCfg, err := f.cfg.GetCache()
	if err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return verdictcache.New(verdictcache.Config{
		Capacity:         cacheCfg.Capacity,
		Shards:           cacheCfg.Shards,
		TTL:              cacheCfg.TTL,
		DegradedTTL:      cacheCfg.DegradedTTL,
		CleanupFrequency: cacheCfg.CleanupFrequency,
		StoreTimeout:     cacheCfg.StoreTimeout,
	}, store, m, f.logger)
}
