// Package pricing implements the price-sovereignty half of the financial
// core: the pricing calculator, the read-through price cache coordinator,
// and the price lock manager.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sovmarket/financial-core/internal/cachekey"
	"github.com/sovmarket/financial-core/internal/metrics"
	"github.com/sovmarket/financial-core/internal/model"
)

// CacheTTL is the fixed lifetime of a cached price calculation.
const CacheTTL = 3600 * time.Second

// Cache is the external cache collaborator. Values are JSON documents whose
// decimal fields are string-encoded, so they round-trip exactly — never
// through a lossy numeric type.
type Cache interface {
	// Get returns (value, true, nil) on a hit and ("", false, nil) on a miss.
	Get(ctx context.Context, key string) (string, bool, error)

	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// KeysMatching returns every stored key matching the glob pattern.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
}

// RedisCache implements Cache on a Redis client. KeysMatching uses SCAN
// rather than KEYS so invalidation never blocks the server.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *RedisCache) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// MemoryCache implements Cache with an in-process map. Used for testing and
// for running without a cache service. Entries expire at read time.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for k := range c.entries {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// CacheCoordinator memoizes price calculations with explicit, targeted
// invalidation. Cache failures degrade to recomputation — they never fail
// the primary request.
type CacheCoordinator struct {
	cache Cache
}

// NewCacheCoordinator creates a coordinator over the given cache.
func NewCacheCoordinator(cache Cache) *CacheCoordinator {
	return &CacheCoordinator{cache: cache}
}

// Get returns the cached calculation for the key, or nil on a miss. Cache
// errors and undecodable entries count as misses.
func (cc *CacheCoordinator) Get(ctx context.Context, productID, organizationID, indexID string) *model.PriceCalculation {
	key, err := cachekey.Format(productID, organizationID, indexID)
	if err != nil {
		return nil
	}

	val, ok, err := cc.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("price cache read failed, recomputing", "key", key, "err", err)
		return nil
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return nil
	}

	var calc model.PriceCalculation
	if err := json.Unmarshal([]byte(val), &calc); err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("price cache entry undecodable, recomputing", "key", key, "err", err)
		return nil
	}

	metrics.CacheHits.Inc()
	return &calc
}

// Put writes a calculation through the cache, overwriting any stale entry
// and resetting the TTL. Called after every fresh computation, including
// margin-violating results.
func (cc *CacheCoordinator) Put(ctx context.Context, calc *model.PriceCalculation) {
	key, err := cachekey.Format(calc.ProductID, calc.OrganizationID, calc.VolatilityIndexID)
	if err != nil {
		return
	}

	data, err := json.Marshal(calc)
	if err != nil {
		return
	}

	if err := cc.cache.SetWithTTL(ctx, key, string(data), CacheTTL); err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("price cache write failed", "key", key, "err", err)
	}
}

// Evict removes the entry for one exact (product, organization, index) key.
func (cc *CacheCoordinator) Evict(ctx context.Context, productID, organizationID, indexID string) {
	key, err := cachekey.Format(productID, organizationID, indexID)
	if err != nil {
		return
	}
	if err := cc.cache.Delete(ctx, key); err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("price cache evict failed", "key", key, "err", err)
	}
}

// InvalidateForIndex evicts every cached calculation whose key references
// the given volatility index, across all products and organizations. This
// is mandatory after any update to an index value: a calculation cached
// under a stale multiplier is silently wrong.
func (cc *CacheCoordinator) InvalidateForIndex(ctx context.Context, indexID string) error {
	pattern := cachekey.IndexPattern(indexID)

	keys, err := cc.cache.KeysMatching(ctx, pattern)
	if err != nil {
		metrics.CacheErrors.Inc()
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := cc.cache.Delete(ctx, keys...); err != nil {
		metrics.CacheErrors.Inc()
		return err
	}

	metrics.CacheInvalidations.Add(float64(len(keys)))
	slog.Info("price cache invalidated for index", "index_id", indexID, "keys", len(keys))
	return nil
}
