package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
)

// DefaultWarmSchedule refreshes warmed prices just before they expire.
const DefaultWarmSchedule = "@every 30m"

// PriceFetcher is implemented by the service layer to scrape one query into
// the price cache. It keeps this package free of a service dependency.
type PriceFetcher interface {
	WarmPrice(ctx context.Context, q models.PriceQuery) error
}

// CacheWarmer pre-scrapes a fixed list of price queries, once on Start and
// then on a cron schedule.
type CacheWarmer struct {
	fetcher PriceFetcher
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds one full pass; zero
// means no bound beyond the caller's context.
func NewCacheWarmer(fetcher PriceFetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm fetches each query concurrently. Returns an aggregated error if any
// query failed.
func (w *CacheWarmer) Warm(ctx context.Context, queries []models.PriceQuery) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming price cache", zap.Int("queries", len(queries)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(queries))
	for _, q := range queries {
		wg.Add(1)
		go func(q models.PriceQuery) {
			defer wg.Done()
			if err := w.fetcher.WarmPrice(ctx, q); err != nil {
				errCh <- fmt.Errorf("warm %s/%s: %w", q.Commodity, q.State, err)
			}
		}(q)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("price cache warming complete",
		zap.Int("queries", len(queries)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start runs an initial Warm in the background and schedules the rest with
// a cron expression such as "@every 30m" or "*/30 * * * *". ctx is the base
// context for every pass; cancel it or call Stop to end the schedule.
func (w *CacheWarmer) Start(ctx context.Context, queries []models.PriceQuery, schedule string) error {
	if schedule == "" {
		schedule = DefaultWarmSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	run := func() {
		if err := w.Warm(ctx, queries); err != nil {
			w.logger.Warn("price cache warm failed", zap.Error(err))
		}
	}
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("cache warming schedule %q: %w", schedule, err)
	}

	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()

	go run()
	c.Start()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the schedule and returns a context that is done once any
// running pass finishes.
func (w *CacheWarmer) Stop() context.Context {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.Stop()
}
