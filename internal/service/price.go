package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/fallback"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

const priceKind = "price"

// FallbackPriceMessage accompanies synthetic price responses.
const FallbackPriceMessage = "Live market data is unavailable; showing estimated prices"

// Scraper fetches live market prices for a query.
type Scraper interface {
	Scrape(ctx context.Context, q models.PriceQuery) ([]models.MarketPriceRecord, error)
}

// PriceResult is what a price lookup served and where it came from.
type PriceResult struct {
	Records   []models.MarketPriceRecord
	Source    models.PriceSource
	Message   string
	Timestamp time.Time
}

// PriceOptions tunes a PriceService. Zero values use package defaults.
type PriceOptions struct {
	TTL             time.Duration
	CoalesceTimeout time.Duration
	Now             func() time.Time
}

// PriceService serves market prices: cache, then scrape, then fallback.
// Only scraped rows are cached.
type PriceService struct {
	scraper   Scraper
	cache     cache.Cache[[]models.MarketPriceRecord]
	fallback  *fallback.Generator
	ttl       time.Duration
	coalescer *requestCoalescer[[]models.MarketPriceRecord]
	stampede  *stampedeTracker
	logger    *zap.Logger
	now       func() time.Time
}

// NewPriceService wires a price service.
func NewPriceService(scraper Scraper, c cache.Cache[[]models.MarketPriceRecord], gen *fallback.Generator, logger *zap.Logger, opts PriceOptions) *PriceService {
	if opts.TTL <= 0 {
		opts.TTL = cache.PriceTTL
	}
	return &PriceService{
		scraper:   scraper,
		cache:     c,
		fallback:  gen,
		ttl:       opts.TTL,
		coalescer: newRequestCoalescer[[]models.MarketPriceRecord](orTimeout(opts.CoalesceTimeout)),
		stampede:  newStampedeTracker(priceKind),
		logger:    orNop(logger),
		now:       orNow(opts.Now),
	}
}

// GetPrices never fails: a query the scraper cannot answer gets estimated
// rows tagged fallback.
func (s *PriceService) GetPrices(ctx context.Context, q models.PriceQuery) PriceResult {
	logger := observability.LoggerOr(ctx, s.logger)
	observability.RecordPriceQuery(q.Commodity)
	key := cache.PriceKey(q.Commodity, q.State, q.Market)

	if cached, ok := lookup(ctx, s.cache, priceKind, key, logger); ok {
		traffic.Record(traffic.OutcomeLive)
		return PriceResult{
			Records:   withPriceSource(cached, models.PriceSourceCache),
			Source:    models.PriceSourceCache,
			Timestamp: s.now(),
		}
	}

	records, err := s.scrape(ctx, key, q)
	if err != nil {
		logger.Warn("Price scrape failed, serving fallback",
			zap.String("commodity", q.Commodity),
			zap.String("state", q.State),
			zap.String("market", q.Market),
			zap.String("category", string(apperr.Categorize(err))),
			zap.Error(err),
		)
		servedFallback(priceKind)
		return PriceResult{
			Records:   s.fallback.Prices(q),
			Source:    models.PriceSourceFallback,
			Message:   FallbackPriceMessage,
			Timestamp: s.now(),
		}
	}

	traffic.Record(traffic.OutcomeLive)
	logger.Info("Prices scraped",
		zap.String("commodity", q.Commodity),
		zap.String("state", q.State),
		zap.Int("rows", len(records)),
	)
	return PriceResult{Records: records, Source: models.PriceSourceScraped, Timestamp: s.now()}
}

// RefreshPrices clears the price cache and fetches q again.
func (s *PriceService) RefreshPrices(ctx context.Context, q models.PriceQuery) PriceResult {
	logger := observability.LoggerOr(ctx, s.logger)
	if err := s.cache.Clear(ctx); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(priceKind, "clear").Inc()
		logger.Warn("Price cache clear failed", zap.Error(err))
	}
	return s.GetPrices(ctx, q)
}

// WarmPrice scrapes q into the cache. Unlike GetPrices it reports failure
// instead of falling back.
func (s *PriceService) WarmPrice(ctx context.Context, q models.PriceQuery) error {
	_, err := s.scrape(ctx, cache.PriceKey(q.Commodity, q.State, q.Market), q)
	return err
}

// scrape runs one coalesced scrape for key and caches a non-empty result.
func (s *PriceService) scrape(ctx context.Context, key string, q models.PriceQuery) ([]models.MarketPriceRecord, error) {
	s.stampede.RecordMiss(key)
	defer s.stampede.Done(key)

	records, shared, err := s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) ([]models.MarketPriceRecord, error) {
		rows, err := s.scraper.Scrape(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%s in %s: %w", q.Commodity, q.State, apperr.ErrNoData)
		}
		remember(ctx, s.cache, priceKind, key, rows, s.ttl, observability.LoggerOr(ctx, s.logger))
		return rows, nil
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(priceKind).Inc()
	}
	return records, err
}

func withPriceSource(in []models.MarketPriceRecord, src models.PriceSource) []models.MarketPriceRecord {
	out := make([]models.MarketPriceRecord, len(in))
	for i, r := range in {
		r.Source = src
		out[i] = r
	}
	return out
}
