package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "phishguard:verdict:"

// RedisStore is a Redis implementation of the VerdictStore interface.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore creates a verdict store on an existing client
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func redisKey(fp core.Fingerprint) string {
	return redisKeyPrefix + fp.String()
}

// Get retrieves a cached entry for a fingerprint
func (s *RedisStore) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	data, err := s.client.Get(ctx, redisKey(fp)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, unavailable("get verdict from redis", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Verdict == nil {
		s.logger.Error("Dropping undecodable cache entry", zap.String("fingerprint", fp.String()), zap.Error(err))
		_ = s.Delete(ctx, fp)
		return nil, core.ErrNotFound
	}
	rec.Verdict.Fingerprint = fp

	return &core.CacheEntry{
		Fingerprint: fp,
		Verdict:     rec.Verdict,
		InsertedAt:  rec.InsertedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Set stores a cache entry with a TTL matching its expiry
func (s *RedisStore) Set(ctx context.Context, entry *core.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(record{
		Verdict:    entry.Verdict,
		InsertedAt: entry.InsertedAt,
		ExpiresAt:  entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := s.client.Set(ctx, redisKey(entry.Fingerprint), data, ttl).Err(); err != nil {
		return unavailable("set verdict in redis", err)
	}
	return nil
}

// Delete removes a cache entry
func (s *RedisStore) Delete(ctx context.Context, fp core.Fingerprint) error {
	if err := s.client.Del(ctx, redisKey(fp)).Err(); err != nil {
		return unavailable("delete verdict from redis", err)
	}
	return nil
}

// Cleanup is a no-op: Redis expires keys itself
func (s *RedisStore) Cleanup(context.Context) error {
	return nil
}

// Close is a no-op: the client is shared and owned by whoever created it
func (s *RedisStore) Close() error {
	return nil
}
