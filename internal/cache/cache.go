package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Default TTLs per cached kind.
const (
	PriceTTL    = 30 * time.Minute
	LocationTTL = 5 * time.Minute
	WeatherTTL  = 10 * time.Minute
	SoilTTL     = 24 * time.Hour
)

// Cache is a TTL key/value cache. Get returns (zero, false, nil) on a miss or
// an expired entry; errors are reserved for backend failures, which callers
// treat as a miss.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries
// are removed when read; there is no background sweeper.
type InMemoryCache[T any] struct {
	mu   sync.Mutex
	data map[string]cacheEntry[T]
	now  func() time.Time
}

type cacheEntry[T any] struct {
	value    T
	storedAt time.Time
	ttl      time.Duration
}

// NewInMemoryCache creates an empty cache. A nil now uses time.Now.
func NewInMemoryCache[T any](now func() time.Time) *InMemoryCache[T] {
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache[T]{data: make(map[string]cacheEntry[T]), now: now}
}

// Get returns the value for key if it was stored less than its TTL ago.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.now().Sub(entry.storedAt) >= entry.ttl {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key for ttl.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry[T]{value: value, storedAt: c.now(), ttl: ttl}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *InMemoryCache[T]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Clear drops every entry.
func (c *InMemoryCache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry[T])
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// PriceKey is the cache key for a market-price query.
func PriceKey(commodity, state, market string) string {
	return "price:" + normalize(commodity) + "|" + normalize(state) + "|" + normalize(market)
}

// LocationKey is the cache key for a resolved location, by user id or IP.
func LocationKey(subject string) string {
	return "enhanced_location:" + normalize(subject)
}

// WeatherKey buckets coordinates to two decimals (about 1 km).
func WeatherKey(kind string, lat, lon float64) string {
	return kind + ":" + strings.Join([]string{formatBucket(lat), formatBucket(lon)}, ",")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
