package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Outbound calls per provider (agmarknet, ipinfo, ipapi, nominatim, ...).
	// Watch for: error share per provider, p95 close to the provider timeout.
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamDuration     *prometheus.HistogramVec
	UpstreamRetriesTotal *prometheus.CounterVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Location cascade: one increment per attempted stage.
	CascadeStageTotal *prometheus.CounterVec

	// Synthetic responses. A rising rate means real sources are down.
	FallbackServedTotal *prometheus.CounterVec

	CoalescedRequestsTotal     *prometheus.CounterVec
	CacheStampedeDetectedTotal *prometheus.CounterVec

	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	RateLimitDeniedTotal prometheus.Counter

	// Per-commodity query count (allow-list; others go to "other").
	PriceQueriesByCommodityTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	trackedCommoditiesMu sync.RWMutex
	trackedCommodities   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamCallsTotal", Help: "Outbound calls by provider and result"},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Outbound call latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"provider", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamRetriesTotal", Help: "Retry attempts by provider"},
		[]string{"provider"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Cache hits by cache type"},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheMissesTotal", Help: "Cache misses (including lazy TTL expiry) by cache type"},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors by cache type and operation"},
		[]string{"cacheType", "operation"},
	)
	CascadeStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locationCascadeStageTotal", Help: "Location cascade stage attempts by outcome"},
		[]string{"stage", "outcome"},
	)
	FallbackServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fallbackServedTotal", Help: "Synthetic fallback responses by kind"},
		[]string{"kind"},
	)
	CoalescedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "coalescedRequestsTotal", Help: "Requests that waited on an in-flight fetch for the same key"},
		[]string{"kind"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)"},
		[]string{"upstream"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"upstream", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)
	PriceQueriesByCommodityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "priceQueriesByCommodityTotal", Help: "Market price queries by commodity (allow-list; others use commodity=other)"},
		[]string{"commodity"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingTotal", Help: "Cache warming runs"},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingErrorsTotal", Help: "Cache warming runs with at least one failed key"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Cache misses that found another miss for the same key in progress"},
		[]string{"kind"},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		CascadeStageTotal, FallbackServedTotal, CoalescedRequestsTotal, CacheStampedeDetectedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal, PriceQueriesByCommodityTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RegisterTrafficGauges exposes the sliding-window traffic counts used by /health.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "dataRequestsInWindow",
					Help: "Data requests in the health window (all outcomes)",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "fallbackResponsesInWindow",
					Help: "Fallback responses in the health window",
				},
				func() float64 { return float64(traffic.Count(traffic.OutcomeFallback, window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(upstream, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(upstream, from, to).Inc()
	CircuitBreakerState.WithLabelValues(upstream).Set(float64(toValue))
}

// SetTrackedCommodities sets the allow-list for commodity metrics.
func SetTrackedCommodities(commodities []string) {
	trackedCommoditiesMu.Lock()
	defer trackedCommoditiesMu.Unlock()
	trackedCommodities = make(map[string]struct{}, len(commodities))
	for _, c := range commodities {
		trackedCommodities[normalizeLabel(c)] = struct{}{}
	}
}

// RecordPriceQuery records a price query under its commodity label.
func RecordPriceQuery(commodity string) {
	PriceQueriesByCommodityTotal.WithLabelValues(CommodityLabel(commodity)).Inc()
}

// CommodityLabel returns the normalized commodity if tracked, otherwise "other".
func CommodityLabel(commodity string) string {
	c := normalizeLabel(commodity)
	trackedCommoditiesMu.RLock()
	_, ok := trackedCommodities[c]
	trackedCommoditiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
