package factory

import (
	"sync"

	"github.com/mikey/phishguard/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFactory lazily creates the Redis client shared by the verdict store and the quota counter
type RedisFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	once   sync.Once
	client *redis.Client
}

// NewRedisFactory creates a new Redis factory
func NewRedisFactory(cfg *config.Config, logger *zap.Logger) *RedisFactory {
	return &RedisFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// Client returns the shared client, creating it on first use
func (f *RedisFactory) Client() *redis.Client {
	f.once.Do(func() {
		redisCfg := f.cfg.GetRedis()
		f.logger.Info("Connecting to Redis",
			zap.String("address", redisCfg.Address),
			zap.Int("db", redisCfg.DB))
		f.client = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Address,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
	})
	return f.client
}

// Close closes the client if one was created
func (f *RedisFactory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
