// Package health decides the status reported on /health from the process
// lifecycle, the sliding traffic window and dependency probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/lifecycle"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

// Status is the overall service state.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusOverloaded   Status = "overloaded"
	StatusIdle         Status = "idle"
	StatusUnhealthy    Status = "unhealthy"
	StatusShuttingDown Status = "shutting-down"
)

// HTTPStatus maps a status to the response code. Degraded still answers 200:
// fallback data is a valid response, so the instance should keep traffic.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusShuttingDown, StatusOverloaded, StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// Traffic is the sliding-window view the evaluator reads.
type Traffic interface {
	RequestCount(window time.Duration) int
	FallbackRate(window time.Duration) (degraded, total int)
}

// Check probes one dependency. A failing critical check makes the service
// unhealthy; a failing optional one is only reported.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Config holds the thresholds. A zero threshold disables its rule.
type Config struct {
	Window                 time.Duration
	RateLimitRPS           int
	OverloadThresholdPct   int
	DegradedFallbackPct    int
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	ProbeTimeout           time.Duration
}

// Report is the /health body.
type Report struct {
	Status    Status            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Checks    map[string]string `json:"checks"`
	Traffic   TrafficSummary    `json:"traffic"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
}

// TrafficSummary is the window the decision was based on.
type TrafficSummary struct {
	Window      string `json:"window"`
	Requests    int    `json:"requests"`
	Degraded    int    `json:"degraded"`
	FallbackPct int    `json:"fallbackPct"`
}

// Evaluator computes Reports and logs status transitions.
type Evaluator struct {
	cfg     Config
	checks  []Check
	traffic Traffic
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	prev Status
}

// NewEvaluator returns an evaluator over the process-wide traffic tracker.
func NewEvaluator(cfg Config, logger *zap.Logger, checks ...Check) *Evaluator {
	return NewEvaluatorWith(cfg, traffic.Default(), time.Now, logger, checks...)
}

// NewEvaluatorWith allows injecting the traffic source and clock.
func NewEvaluatorWith(cfg Config, t Traffic, now func() time.Time, logger *zap.Logger, checks ...Check) *Evaluator {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{cfg: cfg, checks: checks, traffic: t, logger: logger, now: now}
}

// Evaluate decides the status. Order: shutting-down, unhealthy dependency,
// overloaded, idle, degraded, healthy.
func (e *Evaluator) Evaluate(ctx context.Context) Report {
	now := e.now()
	checks, failedCritical := e.runChecks(ctx)

	requests := e.traffic.RequestCount(e.cfg.Window)
	degraded, served := e.traffic.FallbackRate(e.cfg.Window)
	pct := 0
	if served > 0 {
		pct = degraded * 100 / served
	}
	report := Report{
		Checks: checks,
		Traffic: TrafficSummary{
			Window:      e.cfg.Window.String(),
			Requests:    requests,
			Degraded:    degraded,
			FallbackPct: pct,
		},
		Uptime:    lifecycle.Uptime(now).Truncate(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	switch {
	case lifecycle.IsShuttingDown():
		report.Status, report.Reason = StatusShuttingDown, "signal"
	case failedCritical != "":
		report.Status, report.Reason = StatusUnhealthy, failedCritical+"_unreachable"
	case e.overloaded(requests):
		report.Status, report.Reason = StatusOverloaded, "overload_threshold"
	case e.idle(now, requests):
		report.Status, report.Reason = StatusIdle, "low_traffic"
	case e.cfg.DegradedFallbackPct > 0 && served > 0 && pct >= e.cfg.DegradedFallbackPct:
		report.Status, report.Reason = StatusDegraded, "fallback_rate_breach"
	default:
		report.Status = StatusHealthy
	}

	e.mu.Lock()
	if e.prev != "" && e.prev != report.Status {
		e.logger.Info("health status transition",
			zap.String("previous_status", string(e.prev)),
			zap.String("current_status", string(report.Status)),
			zap.String("reason", report.Reason))
	}
	e.prev = report.Status
	e.mu.Unlock()
	return report
}

func (e *Evaluator) runChecks(ctx context.Context) (map[string]string, string) {
	results := make(map[string]string, len(e.checks))
	failedCritical := ""
	for _, c := range e.checks {
		probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
		err := c.Probe(probeCtx)
		cancel()
		if err == nil {
			results[c.Name] = "healthy"
			continue
		}
		results[c.Name] = "unhealthy"
		e.logger.Warn("health check failed", zap.String("check", c.Name), zap.Error(err))
		if c.Critical && failedCritical == "" {
			failedCritical = c.Name
		}
	}
	return results, failedCritical
}

// overloaded is true when requests in the window exceed the configured
// share of what the rate limiter admits.
func (e *Evaluator) overloaded(requests int) bool {
	if e.cfg.RateLimitRPS <= 0 || e.cfg.OverloadThresholdPct <= 0 {
		return false
	}
	threshold := float64(e.cfg.RateLimitRPS) * e.cfg.Window.Seconds() * float64(e.cfg.OverloadThresholdPct) / 100
	return float64(requests) > threshold
}

func (e *Evaluator) idle(now time.Time, requests int) bool {
	if e.cfg.IdleThresholdReqPerMin <= 0 || e.cfg.MinimumLifespan <= 0 {
		return false
	}
	if lifecycle.Uptime(now) < e.cfg.MinimumLifespan {
		return false
	}
	perMin := float64(requests) / e.cfg.Window.Minutes()
	return perMin < float64(e.cfg.IdleThresholdReqPerMin)
}
