package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kisansaathi/farmdata-service/internal/observability"
)

// DefaultMaxBodyBytes caps JSON and form bodies.
const DefaultMaxBodyBytes = 64 << 10

// RouterConfig holds the middleware settings for the data routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	MaxBodyBytes   int64
}

// NewRouter builds the API. /health and /metrics skip the rate limiter and
// the request timeout so probes keep answering under load.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

	api.HandleFunc("/scrape/market-prices", h.GetMarketPrices).Methods(http.MethodGet)
	api.HandleFunc("/scrape/market-prices", h.RefreshMarketPrices).Methods(http.MethodPost)
	api.HandleFunc("/location/resolve", h.ResolveLocation).Methods(http.MethodPost)
	api.HandleFunc("/location/manual", h.SaveManualLocation).Methods(http.MethodPut)
	api.HandleFunc("/location/manual/{userId}", h.DeleteManualLocation).Methods(http.MethodDelete)
	api.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/soil", h.GetSoil).Methods(http.MethodGet)
	return router
}
