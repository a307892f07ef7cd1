package verdictcache

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures the verdict cache
type Config struct {
	// Capacity is the total number of entries, split across shards
	Capacity int
	Shards   int
	TTL      time.Duration
	// DegradedTTL applies to verdicts produced by the heuristic fallback
	DegradedTTL      time.Duration
	CleanupFrequency time.Duration
	// StoreTimeout bounds each second-tier store call
	StoreTimeout time.Duration
}

// DefaultConfig returns the cache defaults
func DefaultConfig() Config {
	return Config{
		Capacity:         10000,
		Shards:           16,
		TTL:              6 * time.Hour,
		DegradedTTL:      5 * time.Minute,
		CleanupFrequency: 10 * time.Minute,
		StoreTimeout:     500 * time.Millisecond,
	}
}

type entry struct {
	verdict    *core.Verdict
	insertedAt time.Time
	expiresAt  time.Time
	accessors  map[string]struct{}
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[core.Fingerprint, *entry]
}

// Cache maps fingerprints to verdicts. L1 is a set of in-memory LRU shards, L2 an optional
// persistent store. At most one computation per fingerprint is in flight at a time.
type Cache struct {
	shards  []*shard
	store   core.VerdictStore
	group   singleflight.Group
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new verdict cache and starts its cleanup task. store may be nil.
func New(cfg Config, store core.VerdictStore, m *metrics.Metrics, logger *zap.Logger) (*Cache, error) {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Capacity < cfg.Shards {
		cfg.Shards = cfg.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.DegradedTTL <= 0 || cfg.DegradedTTL > cfg.TTL {
		cfg.DegradedTTL = min(def.DegradedTTL, cfg.TTL)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}

	c := &Cache{
		shards:  make([]*shard, cfg.Shards),
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	perShard := (cfg.Capacity + cfg.Shards - 1) / cfg.Shards
	for i := range c.shards {
		l, err := simplelru.NewLRU[core.Fingerprint, *entry](perShard, nil)
		if err != nil {
			return nil, err
		}
		c.shards[i] = &shard{lru: l}
	}

	if cfg.CleanupFrequency > 0 {
		c.wg.Add(1)
		go c.startCleanupTask()
	}

	return c, nil
}

func (c *Cache) shardFor(fp core.Fingerprint) *shard {
	return c.shards[binary.BigEndian.Uint32(fp[:4])%uint32(len(c.shards))]
}

// Lookup returns the cached verdict for a fingerprint, consulting L2 on an L1 miss
func (c *Cache) Lookup(ctx context.Context, fp core.Fingerprint) (*core.Verdict, bool) {
	if v, ok := c.lookupL1(fp); ok {
		c.metrics.CacheLookup("l1", true)
		return v, true
	}
	c.metrics.CacheLookup("l1", false)

	if c.store == nil {
		return nil, false
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	e, err := c.store.Get(storeCtx, fp)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.metrics.StoreError("get")
			c.logger.Warn("Verdict store unavailable, bypassing",
				zap.String("fingerprint", fp.String()),
				zap.Error(err))
		}
		c.metrics.CacheLookup("l2", false)
		return nil, false
	}
	now := c.now()
	if e.Verdict == nil || e.Expired(now) {
		c.metrics.CacheLookup("l2", false)
		return nil, false
	}

	c.metrics.CacheLookup("l2", true)
	c.put(fp, e.Verdict, e.InsertedAt, e.ExpiresAt, "")
	c.logger.Debug("Promoted verdict from store", zap.String("fingerprint", fp.String()))
	return e.Verdict, true
}

func (c *Cache) lookupL1(fp core.Fingerprint) (*core.Verdict, bool) {
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(fp)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		s.lru.Remove(fp)
		return nil, false
	}
	return e.verdict, true
}

// Store caches a verdict computed for a tenant in L1 and, when configured, L2.
// Store failures are logged and never returned.
func (c *Cache) Store(ctx context.Context, fp core.Fingerprint, tenantID string, verdict *core.Verdict) {
	ttl := c.cfg.TTL
	if verdict.Degraded {
		ttl = c.cfg.DegradedTTL
	}
	now := c.now()
	c.put(fp, verdict, now, now.Add(ttl), tenantID)

	if c.store == nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	err := c.store.Set(storeCtx, &core.CacheEntry{
		Fingerprint: fp,
		Verdict:     verdict,
		InsertedAt:  now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		c.metrics.StoreError("set")
		c.logger.Warn("Failed to persist verdict",
			zap.String("fingerprint", fp.String()),
			zap.Error(err))
	}
}

func (c *Cache) put(fp core.Fingerprint, verdict *core.Verdict, insertedAt, expiresAt time.Time, tenantID string) {
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	accessors := make(map[string]struct{})
	if old, ok := s.lru.Peek(fp); ok {
		for t := range old.accessors {
			accessors[t] = struct{}{}
		}
	}
	if tenantID != "" {
		accessors[tenantID] = struct{}{}
	}
	s.lru.Add(fp, &entry{
		verdict:    verdict,
		insertedAt: insertedAt,
		expiresAt:  expiresAt,
		accessors:  accessors,
	})
}

// touch records a tenant as an accessor of a cached entry
func (c *Cache) touch(fp core.Fingerprint, tenantID string) {
	if tenantID == "" {
		return
	}
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lru.Peek(fp); ok {
		e.accessors[tenantID] = struct{}{}
	}
}

type flightResult struct {
	verdict *core.Verdict
	cached  bool
}

// Resolve returns the cached verdict for a fingerprint or computes it, sharing one
// computation among concurrent callers. The computation runs detached from the caller's
// cancellation so that it still populates the cache; a cancelled caller returns at once
// with its context error. The boolean reports whether the verdict came from the cache.
func (c *Cache) Resolve(ctx context.Context, fp core.Fingerprint, tenantID string, compute func(ctx context.Context) (*core.Verdict, error)) (*core.Verdict, bool, error) {
	if v, ok := c.Lookup(ctx, fp); ok {
		c.touch(fp, tenantID)
		return v, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fp.String(), func() (interface{}, error) {
		if v, ok := c.lookupL1(fp); ok {
			return flightResult{verdict: v, cached: true}, nil
		}
		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Store(detached, fp, tenantID, v)
		return flightResult{verdict: v}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.metrics.SharedFlight()
		}
		fr := res.Val.(flightResult)
		c.touch(fp, tenantID)
		return fr.verdict, fr.cached, nil
	}
}

// Accessors returns the tenants that received the cached verdict for a fingerprint
func (c *Cache) Accessors(fp core.Fingerprint) []string {
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(fp)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.accessors))
	for t := range e.accessors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries held in L1, expired ones included
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// Cleanup drops expired L1 entries and asks the store to do the same
func (c *Cache) Cleanup(ctx context.Context) error {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for _, fp := range s.lru.Keys() {
			if e, ok := s.lru.Peek(fp); ok && !now.Before(e.expiresAt) {
				s.lru.Remove(fp)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", removed))

	if c.store != nil {
		if err := c.store.Cleanup(ctx); err != nil {
			c.metrics.StoreError("cleanup")
			return err
		}
	}
	return nil
}

// startCleanupTask periodically removes expired entries
func (c *Cache) startCleanupTask() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the store
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				c.logger.Error("Failed to close verdict store", zap.Error(err))
			}
		}
	})
}
