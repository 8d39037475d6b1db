// Package cache provides the TTL key-value cache used for query results:
// a Ristretto L1 tier with an optional Redis L2 tier shared across
// instances, and fingerprint-based key derivation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTLCache is a two-tier cache with per-key TTL. Ristretto owns eviction;
// the keys registry makes Exists and Clear exact, which Ristretto alone
// cannot provide.
type TTLCache struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	logger *zap.Logger

	mu   sync.RWMutex
	keys map[string]time.Time // key -> expiry deadline

	metricsMu sync.Mutex
	metrics   Metrics
}

// Metrics tracks cache performance counters.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	Sets     int64
}

// DefaultTTL applies when Set is called with a non-positive TTL.
const DefaultTTL = time.Hour

// New creates a TTLCache. redisClient may be nil to run L1-only.
func New(maxCost int64, redisClient *redis.Client, logger *zap.Logger) (*TTLCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCost <= 0 {
		maxCost = 64 << 20 // 64 MiB of serialized results
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &TTLCache{
		l1:     l1,
		l2:     redisClient,
		logger: logger.Named("cache"),
		keys:   make(map[string]time.Time),
	}, nil
}

// Get returns the stored value if present and not expired.
func (c *TTLCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.expired(key) {
		c.evict(ctx, key)
		c.recordL1Miss()
		return nil, false
	}

	if val, found := c.l1.Get(key); found {
		c.recordL1Hit()
		return val, true
	}
	c.recordL1Miss()

	if c.l2 != nil {
		data, err := c.l2.Get(ctx, key).Bytes()
		if err == nil {
			c.record(func(m *Metrics) { m.L2Hits++ })
			c.promote(ctx, key, data)
			return data, true
		}
		c.record(func(m *Metrics) { m.L2Misses++ })
	}
	return nil, false
}

// Set stores data under key for ttl. The L2 write is best-effort and
// asynchronous.
func (c *TTLCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.l1.SetWithTTL(key, data, int64(len(data)), ttl)
	c.l1.Wait()

	c.mu.Lock()
	c.keys[key] = time.Now().Add(ttl)
	c.mu.Unlock()
	c.record(func(m *Metrics) { m.Sets++ })

	if c.l2 != nil {
		go func() {
			if err := c.l2.Set(context.Background(), key, data, ttl).Err(); err != nil {
				c.logger.Warn("L2 cache set failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}
}

// Delete removes the key from both tiers. It reports whether the key was
// live at the time of deletion.
func (c *TTLCache) Delete(ctx context.Context, key string) bool {
	existed := !c.expired(key) && c.registered(key)
	c.evict(ctx, key)
	return existed
}

// Exists reports whether key is present and unexpired.
func (c *TTLCache) Exists(ctx context.Context, key string) bool {
	if c.registered(key) && !c.expired(key) {
		return true
	}
	if c.l2 != nil {
		n, err := c.l2.Exists(ctx, key).Result()
		return err == nil && n > 0
	}
	return false
}

// Clear drops every key and returns how many live keys were removed.
func (c *TTLCache) Clear(ctx context.Context) int {
	c.mu.Lock()
	now := time.Now()
	removed := 0
	keys := make([]string, 0, len(c.keys))
	for key, deadline := range c.keys {
		keys = append(keys, key)
		if now.Before(deadline) {
			removed++
		}
	}
	c.keys = make(map[string]time.Time)
	c.mu.Unlock()

	c.l1.Clear()

	if c.l2 != nil && len(keys) > 0 {
		if err := c.l2.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("L2 cache clear failed", zap.Error(err))
		}
	}

	c.logger.Info("Cache cleared", zap.Int("removed", removed))
	return removed
}

// Stats returns counters for the admin surface.
func (c *TTLCache) Stats() map[string]interface{} {
	c.metricsMu.Lock()
	m := c.metrics
	c.metricsMu.Unlock()

	c.mu.RLock()
	tracked := len(c.keys)
	c.mu.RUnlock()

	total := m.L1Hits + m.L1Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(m.L1Hits) / float64(total)
	}

	return map[string]interface{}{
		"l1_hits":      m.L1Hits,
		"l1_misses":    m.L1Misses,
		"l2_hits":      m.L2Hits,
		"l2_misses":    m.L2Misses,
		"sets":         m.Sets,
		"tracked_keys": tracked,
		"hit_rate":     hitRate,
		"l2_available": c.l2 != nil,
	}
}

// Close releases the L1 cache. The Redis client is owned by the caller.
func (c *TTLCache) Close() error {
	c.l1.Close()
	return nil
}

func (c *TTLCache) promote(ctx context.Context, key string, data []byte) {
	ttl := DefaultTTL
	if c.l2 != nil {
		if remaining, err := c.l2.TTL(ctx, key).Result(); err == nil && remaining > 0 {
			ttl = remaining
		}
	}
	c.l1.SetWithTTL(key, data, int64(len(data)), ttl)
	c.mu.Lock()
	c.keys[key] = time.Now().Add(ttl)
	c.mu.Unlock()
}

func (c *TTLCache) evict(ctx context.Context, key string) {
	c.l1.Del(key)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	if c.l2 != nil {
		if err := c.l2.Del(ctx, key).Err(); err != nil {
			c.logger.Debug("L2 cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *TTLCache) registered(key string) bool {
	c.mu.RLock()
	_, ok := c.keys[key]
	c.mu.RUnlock()
	return ok
}

func (c *TTLCache) expired(key string) bool {
	c.mu.RLock()
	deadline, ok := c.keys[key]
	c.mu.RUnlock()
	return ok && time.Now().After(deadline)
}

func (c *TTLCache) recordL1Hit()  { c.record(func(m *Metrics) { m.L1Hits++ }) }
func (c *TTLCache) recordL1Miss() { c.record(func(m *Metrics) { m.L1Misses++ }) }

func (c *TTLCache) record(fn func(m *Metrics)) {
	c.metricsMu.Lock()
	fn(&c.metrics)
	c.metricsMu.Unlock()
}
