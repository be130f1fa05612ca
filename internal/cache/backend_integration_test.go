//go:build integration
// +build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/testhelpers"
)

func TestLiveBackends_Contract(t *testing.T) {
	ctx := context.Background()
	for _, b := range testhelpers.LiveBackends(t) {
		t.Run(b.Name, func(t *testing.T) {
			key := cache.PriceKey("Onion", "Maharashtra", "")
			rows := testhelpers.SampleRows()

			if _, ok, err := b.Cache.Get(ctx, key); err != nil || ok {
				t.Fatalf("Get before Set = ok %v err %v, want miss", ok, err)
			}
			if err := b.Cache.Set(ctx, key, rows, time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, ok, err := b.Cache.Get(ctx, key)
			if err != nil || !ok {
				t.Fatalf("Get after Set = ok %v err %v", ok, err)
			}
			if len(got) != 1 || got[0].ModalPrice != 1650 || got[0].Trend != rows[0].Trend {
				t.Errorf("round trip = %+v", got)
			}

			if err := b.Cache.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := b.Cache.Get(ctx, key); ok {
				t.Error("entry still present after Delete")
			}
			if err := b.Cache.Delete(ctx, key); err != nil {
				t.Errorf("Delete of a missing key = %v, want nil", err)
			}

			_ = b.Cache.Set(ctx, key, rows, time.Minute)
			if err := b.Cache.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := b.Cache.Get(ctx, key); ok {
				t.Error("entry still present after Clear")
			}
		})
	}
}
