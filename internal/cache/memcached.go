package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcachedClient builds a client for a comma-separated address list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns use package defaults if zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *memcache.Client {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MemcachedCache implements Cache on memcached with JSON values. Keys live
// under a namespace whose generation number is bumped by Clear, so Clear
// only invalidates this cache's own keys.
type MemcachedCache[T any] struct {
	client *memcache.Client
	prefix string
}

// NewMemcachedCache wraps client for values of type T under prefix.
func NewMemcachedCache[T any](client *memcache.Client, prefix string) *MemcachedCache[T] {
	return &MemcachedCache[T]{client: client, prefix: prefix}
}

func (c *MemcachedCache[T]) generationKey() string {
	return c.prefix + "ns"
}

func (c *MemcachedCache[T]) generation() (string, error) {
	item, err := c.client.Get(c.generationKey())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Value), nil
}

func (c *MemcachedCache[T]) key(gen, k string) string {
	return memcacheSafe(c.prefix + gen + ":" + k)
}

// Get implements Cache.Get.
func (c *MemcachedCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	gen, err := c.generation()
	if err != nil {
		return zero, false, err
	}
	item, err := c.client.Get(c.key(gen, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var data T
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return zero, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	gen, err := c.generation()
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(gen, key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// Delete implements Cache.Delete.
func (c *MemcachedCache[T]) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	gen, err := c.generation()
	if err != nil {
		return err
	}
	err = c.client.Delete(c.key(gen, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Clear bumps the namespace generation; old keys age out on their own TTL.
func (c *MemcachedCache[T]) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := c.client.Increment(c.generationKey(), 1)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return c.client.Set(&memcache.Item{Key: c.generationKey(), Value: []byte(strconv.Itoa(1))})
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache[T]) Ping() error {
	return c.client.Ping()
}

func expirationSeconds(ttl time.Duration) int32 {
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return expSec
}
