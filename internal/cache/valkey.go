package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

const scanBatch = 200

// NewValkeyClient connects to addr, which is either host:port or a
// redis:// / valkey:// URL.
func NewValkeyClient(addr string) (valkey.Client, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return nil, err
	}
	return valkey.NewClient(opt)
}

// ValkeyCache implements Cache on a Valkey/Redis server with JSON values
// and native key expiry.
type ValkeyCache[T any] struct {
	client valkey.Client
	prefix string
}

// NewValkeyCache wraps client for values of type T under prefix.
func NewValkeyCache[T any](client valkey.Client, prefix string) *ValkeyCache[T] {
	return &ValkeyCache[T]{client: client, prefix: prefix}
}

func (c *ValkeyCache[T]) key(k string) string {
	return c.prefix + k
}

// Get implements Cache.Get.
func (c *ValkeyCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	payload, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var data T
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return zero, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set. TTLs under a second are rounded up.
func (c *ValkeyCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(string(raw)).Ex(ttl).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Delete implements Cache.Delete.
func (c *ValkeyCache[T]) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
}

// Clear deletes every key under the prefix, SCANning in batches.
func (c *ValkeyCache[T]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		cmd := c.client.B().Scan().Cursor(cursor).Match(c.prefix + "*").Count(scanBatch).Build()
		entry, err := c.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return err
		}
		if len(entry.Elements) > 0 {
			if err := c.client.Do(ctx, c.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks if the server is reachable. Used for health checks.
func (c *ValkeyCache[T]) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
