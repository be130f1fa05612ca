//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/models"
)

// Backend is a live cache backend under test.
type Backend struct {
	Name  string
	Cache cache.Cache[[]models.MarketPriceRecord]
}

// LiveBackends returns the memcached and valkey backends named by
// MEMCACHED_ADDRS and VALKEY_ADDR. Unreachable or unset backends are
// skipped; the test is skipped if none is available.
func LiveBackends(t *testing.T) []Backend {
	t.Helper()
	prefix := "farmdata-it:" + time.Now().Format("150405.000000") + ":"
	var out []Backend

	if addrs := os.Getenv("MEMCACHED_ADDRS"); addrs != "" {
		mc := cache.NewMemcachedClient(addrs, 500*time.Millisecond, 2)
		c := cache.NewMemcachedCache[[]models.MarketPriceRecord](mc, prefix)
		if err := c.Ping(); err != nil {
			t.Logf("memcached at %s unavailable: %v", addrs, err)
		} else {
			out = append(out, Backend{Name: "memcached", Cache: c})
		}
	}

	if addr := os.Getenv("VALKEY_ADDR"); addr != "" {
		vc, err := cache.NewValkeyClient(addr)
		if err != nil {
			t.Logf("valkey at %s unavailable: %v", addr, err)
		} else {
			c := cache.NewValkeyCache[[]models.MarketPriceRecord](vc, prefix)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := c.Ping(ctx); err != nil {
				t.Logf("valkey at %s unreachable: %v", addr, err)
				vc.Close()
			} else {
				t.Cleanup(vc.Close)
				out = append(out, Backend{Name: "valkey", Cache: c})
			}
		}
	}

	if len(out) == 0 {
		t.Skip("no live cache backend (set MEMCACHED_ADDRS or VALKEY_ADDR)")
	}
	return out
}

// SampleRows returns a small price table for round-trip checks.
func SampleRows() []models.MarketPriceRecord {
	return []models.MarketPriceRecord{{
		Commodity: "Onion", Market: "Lasalgaon", State: "Maharashtra",
		MinPrice: 1400, MaxPrice: 1900, ModalPrice: 1650,
		Unit: models.PriceUnit, Date: "02 Jul 2026", Trend: models.TrendIncreasing,
		PriceChange: 3.1, Source: models.PriceSourceScraped,
	}}
}
