package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/cache"
	"github.com/kisansaathi/farmdata-service/internal/fallback"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
	"github.com/kisansaathi/farmdata-service/internal/weather"
)

const (
	weatherKind = "weather"
	soilKind    = "soil"
)

// WeatherOptions tunes a WeatherService. Zero values use package defaults.
type WeatherOptions struct {
	WeatherTTL      time.Duration
	SoilTTL         time.Duration
	CoalesceTimeout time.Duration
}

// WeatherService serves weather and soil snapshots with per-coordinate
// caching and per-state fallback defaults.
type WeatherService struct {
	weather      weather.Client
	soil         weather.SoilClient
	weatherCache cache.Cache[models.WeatherData]
	soilCache    cache.Cache[models.SoilProfile]
	fallback     *fallback.Generator
	weatherTTL   time.Duration
	soilTTL      time.Duration
	weatherCalls *requestCoalescer[models.WeatherData]
	soilCalls    *requestCoalescer[models.SoilProfile]
	logger       *zap.Logger
}

// NewWeatherService wires a weather service.
func NewWeatherService(wc weather.Client, sc weather.SoilClient, weatherCache cache.Cache[models.WeatherData], soilCache cache.Cache[models.SoilProfile], gen *fallback.Generator, logger *zap.Logger, opts WeatherOptions) *WeatherService {
	if opts.WeatherTTL <= 0 {
		opts.WeatherTTL = cache.WeatherTTL
	}
	if opts.SoilTTL <= 0 {
		opts.SoilTTL = cache.SoilTTL
	}
	timeout := orTimeout(opts.CoalesceTimeout)
	return &WeatherService{
		weather:      wc,
		soil:         sc,
		weatherCache: weatherCache,
		soilCache:    soilCache,
		fallback:     gen,
		weatherTTL:   opts.WeatherTTL,
		soilTTL:      opts.SoilTTL,
		weatherCalls: newRequestCoalescer[models.WeatherData](timeout),
		soilCalls:    newRequestCoalescer[models.SoilProfile](timeout),
		logger:       orNop(logger),
	}
}

// GetWeather returns current weather near (lat, lon). A missing API key is
// the only error: upstream failures are answered with fallback-data.
func (s *WeatherService) GetWeather(ctx context.Context, lat, lon float64, state string) (models.WeatherData, error) {
	logger := observability.LoggerOr(ctx, s.logger)
	if !s.weather.Configured() {
		traffic.Record(traffic.OutcomeError)
		return models.WeatherData{}, fmt.Errorf("weather: %w", apperr.ErrCredentialMissing)
	}

	key := cache.WeatherKey(weatherKind, lat, lon)
	if cached, ok := lookup(ctx, s.weatherCache, weatherKind, key, logger); ok {
		traffic.Record(traffic.OutcomeLive)
		cached.Source = models.DataSourceCache
		return cached, nil
	}

	data, shared, err := s.weatherCalls.GetOrDo(ctx, key, func(ctx context.Context) (models.WeatherData, error) {
		data, err := s.weather.GetCurrentWeather(ctx, lat, lon)
		if err != nil {
			return models.WeatherData{}, err
		}
		remember(ctx, s.weatherCache, weatherKind, key, data, s.weatherTTL, observability.LoggerOr(ctx, s.logger))
		return data, nil
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(weatherKind).Inc()
	}
	if err != nil {
		if errors.Is(err, apperr.ErrCredentialMissing) {
			traffic.Record(traffic.OutcomeError)
			logger.Error("Weather API rejected credentials", zap.Error(err))
			return models.WeatherData{}, err
		}
		logger.Warn("Weather fetch failed, serving fallback",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.String("category", string(apperr.Categorize(err))),
			zap.Error(err),
		)
		servedFallback(weatherKind)
		return s.fallback.Weather(lat, lon, state), nil
	}
	traffic.Record(traffic.OutcomeLive)
	return data, nil
}

// GetSoil returns the topsoil profile near (lat, lon), or the state's
// default profile when SoilGrids has nothing.
func (s *WeatherService) GetSoil(ctx context.Context, lat, lon float64, state string) models.SoilProfile {
	logger := observability.LoggerOr(ctx, s.logger)
	key := cache.WeatherKey(soilKind, lat, lon)
	if cached, ok := lookup(ctx, s.soilCache, soilKind, key, logger); ok {
		traffic.Record(traffic.OutcomeLive)
		cached.Source = models.DataSourceCache
		return cached
	}

	profile, shared, err := s.soilCalls.GetOrDo(ctx, key, func(ctx context.Context) (models.SoilProfile, error) {
		p, err := s.soil.GetSoilProfile(ctx, lat, lon)
		if err != nil {
			return models.SoilProfile{}, err
		}
		remember(ctx, s.soilCache, soilKind, key, p, s.soilTTL, observability.LoggerOr(ctx, s.logger))
		return p, nil
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(soilKind).Inc()
	}
	if err != nil {
		logger.Warn("Soil fetch failed, serving fallback",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.String("category", string(apperr.Categorize(err))),
			zap.Error(err),
		)
		servedFallback(soilKind)
		return s.fallback.Soil(lat, lon, state)
	}
	traffic.Record(traffic.OutcomeLive)
	return profile
}
