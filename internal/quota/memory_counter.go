package quota

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

type tenantCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	expiresAt   time.Time
	count       int

	// removed is set when a sweep drops the counter from its shard
	removed bool
}

type counterShard struct {
	mu      sync.Mutex
	tenants map[string]*tenantCounter
}

// MemoryCounter keeps per-tenant counts in process memory.
// Admission for one tenant is serialized by that tenant's mutex only.
type MemoryCounter struct {
	shards [memoryShards]*counterShard

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewMemoryCounter creates a new in-memory counter
func NewMemoryCounter() *MemoryCounter {
	c := &MemoryCounter{
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &counterShard{tenants: make(map[string]*tenantCounter)}
	}
	return c
}

func (c *MemoryCounter) shard(tenantID string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return c.shards[h.Sum32()%memoryShards]
}

// lock returns the tenant's counter with its mutex held, or nil when create is false and
// the tenant has no counter
func (c *MemoryCounter) lock(tenantID string, create bool) *tenantCounter {
	s := c.shard(tenantID)
	for {
		s.mu.Lock()
		tc, ok := s.tenants[tenantID]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil
			}
			tc = &tenantCounter{}
			s.tenants[tenantID] = tc
		}
		s.mu.Unlock()

		tc.mu.Lock()
		if !tc.removed {
			return tc
		}
		// swept between lookup and lock
		tc.mu.Unlock()
	}
}

// Increment consumes one unit of the tenant's budget
func (c *MemoryCounter) Increment(_ context.Context, tenantID string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	tc := c.lock(tenantID, true)
	defer tc.mu.Unlock()

	// a request carrying an older window is counted in the current one
	if windowStart.After(tc.windowStart) {
		tc.windowStart = windowStart
		tc.expiresAt = windowStart.Add(window)
		tc.count = 0
	}

	if limit >= 0 && tc.count >= limit {
		return tc.count, false, nil
	}
	tc.count++
	return tc.count, true, nil
}

// Peek returns the tenant's count for the window
func (c *MemoryCounter) Peek(_ context.Context, tenantID string, windowStart time.Time) (int, error) {
	tc := c.lock(tenantID, false)
	if tc == nil {
		return 0, nil
	}
	defer tc.mu.Unlock()

	if !tc.windowStart.Equal(windowStart) {
		return 0, nil
	}
	return tc.count, nil
}

// Sweep drops tenants whose window ended before now and returns how many were dropped.
// Counters busy in Increment or Peek are left for the next sweep.
func (c *MemoryCounter) Sweep(now time.Time) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for id, tc := range s.tenants {
			if !tc.mu.TryLock() {
				continue
			}
			if !tc.expiresAt.After(now) {
				tc.removed = true
				delete(s.tenants, id)
				removed++
			}
			tc.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tenants currently tracked
func (c *MemoryCounter) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.tenants)
		s.mu.Unlock()
	}
	return n
}

// StartSweep runs Sweep every interval until Stop is called. A non-positive interval disables it.
func (c *MemoryCounter) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep(c.now())
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the background sweep
func (c *MemoryCounter) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
