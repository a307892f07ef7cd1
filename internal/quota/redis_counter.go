package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "phishguard:quota:"

// admitScript increments the window counter and rolls back when the limit is exceeded.
// KEYS[1] window key, ARGV[1] limit (negative for unlimited), ARGV[2] key TTL in ms.
var admitScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	local limit = tonumber(ARGV[1])
	if limit >= 0 and count > limit then
		redis.call('DECR', KEYS[1])
		return {count - 1, 0}
	end
	return {count, 1}
`)

// RedisCounter keeps per-tenant counts in Redis so that several instances share one budget
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter on an existing client
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func windowKey(tenantID string, windowStart time.Time) string {
	return redisKeyPrefix + tenantID + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// Increment consumes one unit of the tenant's budget atomically
func (c *RedisCounter) Increment(ctx context.Context, tenantID string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	ttl := 2 * window
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}

	res, err := admitScript.Run(ctx, c.client, []string{windowKey(tenantID, windowStart)}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to run admission script: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected admission script result: %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

// Peek returns the tenant's count for the window
func (c *RedisCounter) Peek(ctx context.Context, tenantID string, windowStart time.Time) (int, error) {
	n, err := c.client.Get(ctx, windowKey(tenantID, windowStart)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return n, nil
}
