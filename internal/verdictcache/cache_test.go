package verdictcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[core.Fingerprint]*core.CacheEntry
	err     error
	sets    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[core.Fingerprint]*core.CacheEntry)}
}

func (s *memoryStore) Get(_ context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	e, ok := s.entries[fp]
	if !ok {
		return nil, core.ErrNotFound
	}
	return e, nil
}

func (s *memoryStore) Set(_ context.Context, e *core.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sets++
	s.entries[e.Fingerprint] = e
	return nil
}

func (s *memoryStore) Delete(_ context.Context, fp core.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fp)
	return nil
}

func (s *memoryStore) Cleanup(context.Context) error { return s.err }

func (s *memoryStore) Close() error { return nil }

type CacheSuite struct {
	suite.Suite
	clock *clock
	store *memoryStore
	cache *Cache
}

func (s *CacheSuite) SetupTest() {
	s.clock = &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.store = newMemoryStore()

	cfg := DefaultConfig()
	cfg.CleanupFrequency = 0
	c, err := New(cfg, s.store, nil, zap.NewNop())
	s.Require().NoError(err)
	c.now = s.clock.Now
	s.cache = c
}

func (s *CacheSuite) TearDownTest() {
	s.cache.Stop()
}

func fingerprint(b byte) core.Fingerprint {
	var fp core.Fingerprint
	for i := range fp {
		fp[i] = b
	}
	return fp
}

func verdict(score float64, degraded bool) *core.Verdict {
	return &core.Verdict{Category: core.CategoryForScore(score), Score: score, Degraded: degraded}
}

func (s *CacheSuite) TestStoreAndLookup() {
	ctx := context.Background()
	fp := fingerprint(1)
	v := verdict(0.8, false)

	s.cache.Store(ctx, fp, "t1", v)

	got, ok := s.cache.Lookup(ctx, fp)
	s.True(ok)
	s.Same(v, got)
	s.Equal([]string{"t1"}, s.cache.Accessors(fp))
	s.Equal(1, s.store.sets)
}

func (s *CacheSuite) TestEntryExpires() {
	ctx := context.Background()
	fp := fingerprint(2)
	s.cache.Store(ctx, fp, "t1", verdict(0.1, false))
	s.store.entries = map[core.Fingerprint]*core.CacheEntry{}

	s.clock.Advance(6*time.Hour - time.Second)
	_, ok := s.cache.Lookup(ctx, fp)
	s.True(ok)

	s.clock.Advance(time.Second)
	_, ok = s.cache.Lookup(ctx, fp)
	s.False(ok)
}

func (s *CacheSuite) TestDegradedVerdictUsesShortTTL() {
	ctx := context.Background()
	fp := fingerprint(3)
	s.cache.Store(ctx, fp, "t1", verdict(0.5, true))

	s.clock.Advance(5 * time.Minute)

	_, ok := s.cache.Lookup(ctx, fp)
	s.False(ok, "expired in L1 and L2")
}

func (s *CacheSuite) TestPromotesFromStore() {
	ctx := context.Background()
	fp := fingerprint(4)
	v := verdict(0.9, false)
	s.store.entries[fp] = &core.CacheEntry{
		Fingerprint: fp,
		Verdict:     v,
		InsertedAt:  s.clock.Now(),
		ExpiresAt:   s.clock.Now().Add(time.Hour),
	}

	got, ok := s.cache.Lookup(ctx, fp)
	s.Require().True(ok)
	s.Equal(v, got)

	delete(s.store.entries, fp)
	_, ok = s.cache.lookupL1(fp)
	s.True(ok, "store hit is promoted to L1")
}

func (s *CacheSuite) TestIgnoresExpiredStoreEntry() {
	fp := fingerprint(5)
	s.store.entries[fp] = &core.CacheEntry{
		Fingerprint: fp,
		Verdict:     verdict(0.9, false),
		ExpiresAt:   s.clock.Now().Add(-time.Second),
	}

	_, ok := s.cache.Lookup(context.Background(), fp)
	s.False(ok)
}

func (s *CacheSuite) TestStoreFailureIsBypassed() {
	ctx := context.Background()
	fp := fingerprint(6)
	s.store.err = errors.New("connection refused")

	_, ok := s.cache.Lookup(ctx, fp)
	s.False(ok)

	s.cache.Store(ctx, fp, "t1", verdict(0.2, false))
	got, ok := s.cache.Lookup(ctx, fp)
	s.True(ok)
	s.Equal(0.2, got.Score)
}

func (s *CacheSuite) TestResolveComputesOnce() {
	ctx := context.Background()
	fp := fingerprint(7)
	var calls atomic.Int32
	start := make(chan struct{})

	compute := func(context.Context) (*core.Verdict, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return verdict(0.75, false), nil
	}

	var wg sync.WaitGroup
	results := make([]*core.Verdict, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, _, err := s.cache.Resolve(ctx, fp, "tenant", compute)
			s.NoError(err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for _, v := range results {
		s.Same(results[0], v)
	}

	v, cached, err := s.cache.Resolve(ctx, fp, "other", compute)
	s.NoError(err)
	s.True(cached)
	s.Same(results[0], v)
	s.Equal(int32(1), calls.Load())
	s.Equal([]string{"other", "tenant"}, s.cache.Accessors(fp))
}

func (s *CacheSuite) TestResolveCancelledCallerStillPopulatesCache() {
	fp := fingerprint(8)
	release := make(chan struct{})
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	compute := func(ctx context.Context) (*core.Verdict, error) {
		defer close(done)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return verdict(0.4, false), nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := s.cache.Resolve(ctx, fp, "t1", compute)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("cancelled caller was blocked")
	}

	close(release)
	<-done

	s.Eventually(func() bool {
		_, ok := s.cache.lookupL1(fp)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func (s *CacheSuite) TestResolvePropagatesError() {
	fp := fingerprint(9)
	boom := errors.New("boom")

	_, _, err := s.cache.Resolve(context.Background(), fp, "t1", func(context.Context) (*core.Verdict, error) {
		return nil, boom
	})

	s.ErrorIs(err, boom)
	_, ok := s.cache.Lookup(context.Background(), fp)
	s.False(ok)
}

func (s *CacheSuite) TestCleanupRemovesExpired() {
	ctx := context.Background()
	s.cache.Store(ctx, fingerprint(10), "t1", verdict(0.1, true))
	s.cache.Store(ctx, fingerprint(11), "t1", verdict(0.1, false))

	s.clock.Advance(time.Hour)
	s.Require().NoError(s.cache.Cleanup(ctx))

	s.Equal(1, s.cache.Len())
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(Config{Capacity: 2, Shards: 1}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer c.Stop()
	ctx := context.Background()

	c.Store(ctx, fingerprint(1), "t", verdict(0.1, false))
	c.Store(ctx, fingerprint(2), "t", verdict(0.1, false))
	_, ok := c.Lookup(ctx, fingerprint(1))
	require.True(t, ok)
	c.Store(ctx, fingerprint(3), "t", verdict(0.1, false))

	_, ok = c.Lookup(ctx, fingerprint(2))
	assert.False(t, ok)
	_, ok = c.Lookup(ctx, fingerprint(1))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer c.Stop()

	assert.Equal(t, DefaultConfig().Shards, len(c.shards))
	assert.Equal(t, DefaultConfig().TTL, c.cfg.TTL)
	assert.Equal(t, DefaultConfig().DegradedTTL, c.cfg.DegradedTTL)
}
