package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mikey/phishguard/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEntry(b byte, expiresIn time.Duration) *core.CacheEntry {
	var fp core.Fingerprint
	fp[0] = b
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.CacheEntry{
		Fingerprint: fp,
		Verdict: &core.Verdict{
			Category:   core.CategoryMalicious,
			Score:      0.91,
			Reasons:    []string{"IP address in URL"},
			Confidence: 0.8,
			Backend:    "rules",
			ComputedAt: now,
		},
		InsertedAt: now,
		ExpiresAt:  now.Add(expiresIn),
	}
}

// exerciseStore runs the behaviour every VerdictStore must share
func exerciseStore(t *testing.T, store core.VerdictStore) {
	t.Helper()
	ctx := context.Background()

	live := testEntry(1, time.Hour)
	require.NoError(t, store.Set(ctx, live))

	got, err := store.Get(ctx, live.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, live.Fingerprint, got.Verdict.Fingerprint)
	assert.Equal(t, live.Verdict.Category, got.Verdict.Category)
	assert.Equal(t, live.Verdict.Score, got.Verdict.Score)
	assert.Equal(t, live.Verdict.Reasons, got.Verdict.Reasons)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	live.Verdict = &core.Verdict{Category: core.CategorySafe, Score: 0.1, Reasons: []string{}}
	require.NoError(t, store.Set(ctx, live))
	got, err = store.Get(ctx, live.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, core.CategorySafe, got.Verdict.Category)

	require.NoError(t, store.Delete(ctx, live.Fingerprint))
	_, err = store.Get(ctx, live.Fingerprint)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = store.Get(ctx, core.Fingerprint{0xff})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	expired := testEntry(2, -time.Second)
	live := testEntry(3, time.Hour)
	require.NoError(t, store.Set(ctx, expired))
	require.NoError(t, store.Set(ctx, live))

	_, err = store.Get(ctx, expired.Fingerprint)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, store.Cleanup(ctx))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM verdict_cache`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStoreClosedIsUnavailable(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Get(context.Background(), core.Fingerprint{1})
	assert.ErrorIs(t, err, core.ErrCacheUnavailable)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("PHISHGUARD_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PHISHGUARD_TEST_MYSQL_DSN not set")
	}

	store, err := NewMySQLStore(dsn, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, zap.NewNop())
	exerciseStore(t, store)

	ctx := context.Background()
	entry := testEntry(4, time.Minute)
	require.NoError(t, store.Set(ctx, entry))
	assert.True(t, mr.Exists(redisKey(entry.Fingerprint)))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, entry.Fingerprint)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRedisStoreSkipsExpiredEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, zap.NewNop())

	entry := testEntry(5, -time.Second)
	require.NoError(t, store.Set(context.Background(), entry))

	assert.False(t, mr.Exists(redisKey(entry.Fingerprint)))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, zap.NewNop())
	mr.Close()

	_, err := store.Get(context.Background(), core.Fingerprint{1})
	assert.ErrorIs(t, err, core.ErrCacheUnavailable)
}
