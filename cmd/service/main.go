package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kisansaathi/farmdata-service/internal/agmarknet"
	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/circuitbreaker"
	"github.com/kisansaathi/farmdata-service/internal/config"
	"github.com/kisansaathi/farmdata-service/internal/fallback"
	"github.com/kisansaathi/farmdata-service/internal/fetch"
	"github.com/kisansaathi/farmdata-service/internal/geo"
	"github.com/kisansaathi/farmdata-service/internal/health"
	httphandler "github.com/kisansaathi/farmdata-service/internal/http"
	"github.com/kisansaathi/farmdata-service/internal/lifecycle"
	"github.com/kisansaathi/farmdata-service/internal/location"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/service"
	"github.com/kisansaathi/farmdata-service/internal/store"
	"github.com/kisansaathi/farmdata-service/internal/validation"
	"github.com/kisansaathi/farmdata-service/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLoggerWithSink(observability.FileSink{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.startSchedules(ctx); err != nil {
		logger.Fatal("schedules", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	lifecycle.MarkStarted(time.Now())
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	a.close(waitCtx)
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	logger.Info("shutdown complete")
}

// app is the wired service: the router plus what main has to start and stop.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	router  http.Handler
	prices  *service.PriceService
	store   *store.Store
	warmer  *cache.CacheWarmer
	prune   *cron.Cron
	closers []func() error
}

// caches holds one cache per cached kind on the configured backend.
type caches struct {
	prices    cache.Cache[[]models.MarketPriceRecord]
	locations cache.Cache[location.Resolution]
	weather   cache.Cache[models.WeatherData]
	soil      cache.Cache[models.SoilProfile]
	ping      func(ctx context.Context) error
	close     func() error
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("manual location store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}
	a.closers = append(a.closers, st.Close)

	c, err := newCaches(cfg, logger)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	if c.close != nil {
		a.closers = append(a.closers, c.close)
	}

	gen := fallback.New(cfg.FallbackSeed, nil)

	scraper := agmarknet.New(a.upstreamClient("agmarknet", cfg.Agmarknet), agmarknet.Options{BaseURL: cfg.Agmarknet.URL})
	a.prices = service.NewPriceService(scraper, c.prices, gen, logger, service.PriceOptions{
		TTL:             cfg.PriceTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	// ipgeolocation skips itself when no key is configured.
	providers := []geo.IPProvider{
		geo.NewIPInfo(a.upstreamClient("ipinfo", cfg.IPInfo), cfg.IPInfo.URL, cfg.IPInfoToken),
		geo.NewIPAPI(a.upstreamClient("ip_api", cfg.IPAPI), cfg.IPAPI.URL),
		geo.NewIPGeolocation(a.upstreamClient("ipgeolocation", cfg.IPGeolocation), cfg.IPGeolocation.URL, cfg.IPGeolocationAPIKey),
	}
	cascade := location.NewCascade(logger,
		location.NewManualStage(st, cfg.ManualMaxAge, nil),
		location.NewGPSStage(location.GPSOptions{
			MaxAccuracy: cfg.GPSMaxAccuracy,
			Attempts:    cfg.GPSAttempts,
			RetryDelay:  cfg.GPSRetryDelay,
		},
			geo.NewNominatim(a.upstreamClient("nominatim", cfg.Nominatim), cfg.Nominatim.URL),
			geo.NewBigDataCloud(a.upstreamClient("bigdatacloud", cfg.BigDataCloud), cfg.BigDataCloud.URL),
		),
		location.NewIPStage(validation.IPRules(cfg.BlockedCities), cfg.ParallelIPLookup, logger, providers...),
		location.NewHeuristicStage(),
		location.NewFallbackStage(gen),
	)
	locations := service.NewLocationService(cascade, c.locations, st, gen, logger, service.LocationOptions{
		TTL:             cfg.LocationTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	weatherClient := weather.NewOpenWeatherClient(a.upstreamClient("openweather", cfg.Weather), cfg.Weather.URL, cfg.WeatherAPIKey)
	if !weatherClient.Configured() {
		logger.Warn("WEATHER_API_KEY not set; /weather will answer CREDENTIAL_MISSING")
	}
	soilClient := weather.NewSoilGridsClient(a.upstreamClient("soilgrids", cfg.Soil), cfg.Soil.URL)
	weatherSvc := service.NewWeatherService(weatherClient, soilClient, c.weather, c.soil, gen, logger, service.WeatherOptions{
		WeatherTTL:      cfg.WeatherTTL,
		SoilTTL:         cfg.SoilTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	checks := []health.Check{{Name: "store", Critical: true, Probe: st.Ping}}
	if c.ping != nil {
		checks = append(checks, health.Check{Name: "cache", Probe: c.ping})
	}
	evaluator := health.NewEvaluator(health.Config{
		Window:                 cfg.HealthWindow,
		RateLimitRPS:           cfg.RateLimitRPS,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		DegradedFallbackPct:    cfg.DegradedFallbackPct,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}, logger, checks...)

	observability.RegisterTrafficGauges(cfg.HealthWindow)
	if len(cfg.TrackedCommodities) > 0 {
		observability.SetTrackedCommodities(cfg.TrackedCommodities)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(a.prices, locations, weatherSvc, evaluator, logger)
	a.router = httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	return a, nil
}

// upstreamClient builds the fetch client for one upstream, guarded by its own
// circuit breaker when enabled.
func (a *app) upstreamClient(name string, u config.Upstream) *fetch.Client {
	client := fetch.New(fetch.Options{
		Name:           name,
		Timeout:        u.Timeout,
		RetryAttempts:  u.RetryAttempts,
		RetryBaseDelay: a.cfg.RetryBaseDelay,
		RetryMaxDelay:  a.cfg.RetryMaxDelay,
	})
	if !a.cfg.CircuitBreakerEnabled {
		return client
	}
	client.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: a.cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: a.cfg.CircuitBreakerSuccessThreshold,
		Timeout:          a.cfg.CircuitBreakerTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
			a.logger.Warn("circuit breaker state change",
				zap.String("upstream", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}))
	return client
}

func newCaches(cfg *config.Config, logger *zap.Logger) (caches, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		prices := cache.NewMemcachedCache[[]models.MarketPriceRecord](mc, "farmdata:price:")
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return caches{
			prices:    prices,
			locations: cache.NewMemcachedCache[location.Resolution](mc, "farmdata:location:"),
			weather:   cache.NewMemcachedCache[models.WeatherData](mc, "farmdata:weather:"),
			soil:      cache.NewMemcachedCache[models.SoilProfile](mc, "farmdata:soil:"),
			ping:      func(context.Context) error { return prices.Ping() },
		}, nil
	case "valkey":
		vc, err := cache.NewValkeyClient(cfg.ValkeyAddr)
		if err != nil {
			return caches{}, fmt.Errorf("valkey cache: %w", err)
		}
		prices := cache.NewValkeyCache[[]models.MarketPriceRecord](vc, "farmdata:price:")
		logger.Info("cache backend: valkey", zap.String("addr", cfg.ValkeyAddr))
		return caches{
			prices:    prices,
			locations: cache.NewValkeyCache[location.Resolution](vc, "farmdata:location:"),
			weather:   cache.NewValkeyCache[models.WeatherData](vc, "farmdata:weather:"),
			soil:      cache.NewValkeyCache[models.SoilProfile](vc, "farmdata:soil:"),
			ping:      prices.Ping,
			close: func() error {
				vc.Close()
				return nil
			},
		}, nil
	default:
		logger.Info("cache backend: in_memory")
		return caches{
			prices:    cache.NewInMemoryCache[[]models.MarketPriceRecord](nil),
			locations: cache.NewInMemoryCache[location.Resolution](nil),
			weather:   cache.NewInMemoryCache[models.WeatherData](nil),
			soil:      cache.NewInMemoryCache[models.SoilProfile](nil),
		}, nil
	}
}

// startSchedules starts price warming (when enabled) and the nightly prune
// of stale manual locations. Both stop when ctx is done.
func (a *app) startSchedules(ctx context.Context) error {
	if a.cfg.WarmCache && len(a.cfg.WarmQueries) > 0 {
		queries := make([]models.PriceQuery, 0, len(a.cfg.WarmQueries))
		for _, q := range a.cfg.WarmQueries {
			queries = append(queries, models.PriceQuery{Commodity: q.Commodity, State: q.State, Market: q.Market})
		}
		a.warmer = cache.NewCacheWarmer(a.prices, a.logger, a.cfg.WarmTimeout)
		if err := a.warmer.Start(ctx, queries, a.cfg.WarmSchedule); err != nil {
			return err
		}
	}

	a.prune = cron.New()
	_, err := a.prune.AddFunc(a.cfg.ManualPruneSchedule, func() {
		n, err := a.store.PruneOlderThan(ctx, a.cfg.ManualMaxAge)
		if err != nil {
			a.logger.Warn("manual location prune failed", zap.Error(err))
			return
		}
		a.logger.Info("pruned stale manual locations", zap.Int64("rows", n))
	})
	if err != nil {
		return fmt.Errorf("prune schedule %q: %w", a.cfg.ManualPruneSchedule, err)
	}
	a.prune.Start()
	return nil
}

// close stops the schedules, waiting for running jobs until ctx is done,
// then releases the store and cache connections.
func (a *app) close(ctx context.Context) {
	if a.warmer != nil {
		select {
		case <-a.warmer.Stop().Done():
		case <-ctx.Done():
		}
	}
	if a.prune != nil {
		select {
		case <-a.prune.Stop().Done():
		case <-ctx.Done():
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close", zap.Error(err))
		}
	}
}
