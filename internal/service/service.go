// Package service holds the cache-aside orchestration for prices, locations,
// weather and soil. Each service reads its cache, coalesces concurrent misses
// into one upstream call, and falls back to synthetic data when the upstream
// cannot answer.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

// DefaultCoalesceTimeout bounds how long a caller waits on a shared fetch.
const DefaultCoalesceTimeout = 60 * time.Second

// lookup reads key, counting hits and misses. A backend error is logged and
// treated as a miss.
func lookup[T any](ctx context.Context, c cache.Cache[T], kind, key string, logger *zap.Logger) (T, bool) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(kind, "get").Inc()
		logger.Warn("Cache get failed", zap.String("cacheType", kind), zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	if ok {
		observability.CacheHitsTotal.WithLabelValues(kind).Inc()
		logger.Debug("Cache hit", zap.String("cacheType", kind), zap.String("key", key))
		return v, true
	}
	observability.CacheMissesTotal.WithLabelValues(kind).Inc()
	logger.Debug("Cache miss", zap.String("cacheType", kind), zap.String("key", key))
	return v, false
}

// remember stores value under key. Failures only cost a future miss.
func remember[T any](ctx context.Context, c cache.Cache[T], kind, key string, value T, ttl time.Duration, logger *zap.Logger) {
	if err := c.Set(ctx, key, value, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(kind, "set").Inc()
		logger.Warn("Cache set failed", zap.String("cacheType", kind), zap.String("key", key), zap.Error(err))
	}
}

func forget[T any](ctx context.Context, c cache.Cache[T], kind, key string, logger *zap.Logger) {
	if err := c.Delete(ctx, key); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(kind, "delete").Inc()
		logger.Warn("Cache delete failed", zap.String("cacheType", kind), zap.String("key", key), zap.Error(err))
	}
}

// servedFallback records a synthetic response of the given kind.
func servedFallback(kind string) {
	observability.FallbackServedTotal.WithLabelValues(kind).Inc()
	traffic.Record(traffic.OutcomeFallback)
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func orNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func orTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCoalesceTimeout
	}
	return d
}
