package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kisansaathi/farmdata-service/internal/lifecycle"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

func newTracker(now time.Time) *traffic.Tracker {
	return traffic.NewTracker(func() time.Time { return now })
}

func record(t *traffic.Tracker, o traffic.Outcome, n int) {
	for i := 0; i < n; i++ {
		t.Record(o)
	}
}

func TestEvaluate_Healthy(t *testing.T) {
	now := time.Now()
	tr := newTracker(now)
	record(tr, traffic.OutcomeLive, 10)
	e := NewEvaluatorWith(Config{Window: time.Minute, DegradedFallbackPct: 50}, tr, func() time.Time { return now }, nil)

	r := e.Evaluate(context.Background())
	if r.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy (reason %q)", r.Status, r.Reason)
	}
	if r.Traffic.Requests != 10 || r.Traffic.FallbackPct != 0 {
		t.Errorf("Traffic = %+v", r.Traffic)
	}
}

func TestEvaluate_DegradedOnFallbackRate(t *testing.T) {
	now := time.Now()
	tr := newTracker(now)
	record(tr, traffic.OutcomeLive, 4)
	record(tr, traffic.OutcomeFallback, 6)
	e := NewEvaluatorWith(Config{Window: time.Minute, DegradedFallbackPct: 50}, tr, func() time.Time { return now }, nil)

	r := e.Evaluate(context.Background())
	if r.Status != StatusDegraded || r.Reason != "fallback_rate_breach" {
		t.Errorf("Evaluate() = %q/%q, want degraded/fallback_rate_breach", r.Status, r.Reason)
	}
	if r.Status.HTTPStatus() != http.StatusOK {
		t.Errorf("degraded HTTPStatus = %d, want 200", r.Status.HTTPStatus())
	}
	if r.Traffic.FallbackPct != 60 {
		t.Errorf("FallbackPct = %d, want 60", r.Traffic.FallbackPct)
	}
}

func TestEvaluate_Overloaded(t *testing.T) {
	now := time.Now()
	tr := newTracker(now)
	record(tr, traffic.OutcomeLive, 5)
	record(tr, traffic.OutcomeDenied, 20)
	cfg := Config{Window: 10 * time.Second, RateLimitRPS: 2, OverloadThresholdPct: 100}
	e := NewEvaluatorWith(cfg, tr, func() time.Time { return now }, nil)

	r := e.Evaluate(context.Background())
	if r.Status != StatusOverloaded {
		t.Errorf("Status = %q, want overloaded", r.Status)
	}
	if r.Status.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", r.Status.HTTPStatus())
	}
}

func TestEvaluate_Idle(t *testing.T) {
	now := time.Now()
	lifecycle.MarkStarted(now.Add(-time.Hour))
	defer lifecycle.MarkStarted(now)
	tr := newTracker(now)
	record(tr, traffic.OutcomeLive, 1)
	cfg := Config{Window: 2 * time.Minute, IdleThresholdReqPerMin: 5, MinimumLifespan: 10 * time.Minute}
	e := NewEvaluatorWith(cfg, tr, func() time.Time { return now }, nil)

	if r := e.Evaluate(context.Background()); r.Status != StatusIdle {
		t.Errorf("Status = %q, want idle", r.Status)
	}

	lifecycle.MarkStarted(now.Add(-time.Minute))
	if r := e.Evaluate(context.Background()); r.Status == StatusIdle {
		t.Error("Status = idle before the minimum lifespan")
	}
}

func TestEvaluate_ShuttingDownWins(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	e := NewEvaluatorWith(Config{}, newTracker(time.Now()), nil, nil,
		Check{Name: "store", Critical: true, Probe: func(context.Context) error { return errors.New("down") }})

	r := e.Evaluate(context.Background())
	if r.Status != StatusShuttingDown {
		t.Errorf("Status = %q, want shutting-down", r.Status)
	}
	if r.Status.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", r.Status.HTTPStatus())
	}
}

func TestEvaluate_Checks(t *testing.T) {
	fail := func(context.Context) error { return errors.New("connection refused") }
	ok := func(context.Context) error { return nil }

	t.Run("optional failure is reported only", func(t *testing.T) {
		e := NewEvaluatorWith(Config{}, newTracker(time.Now()), nil, nil,
			Check{Name: "cache", Probe: fail},
			Check{Name: "store", Critical: true, Probe: ok})
		r := e.Evaluate(context.Background())
		if r.Status != StatusHealthy {
			t.Errorf("Status = %q, want healthy", r.Status)
		}
		if r.Checks["cache"] != "unhealthy" || r.Checks["store"] != "healthy" {
			t.Errorf("Checks = %v", r.Checks)
		}
	})

	t.Run("critical failure is unhealthy", func(t *testing.T) {
		e := NewEvaluatorWith(Config{}, newTracker(time.Now()), nil, nil,
			Check{Name: "store", Critical: true, Probe: fail})
		r := e.Evaluate(context.Background())
		if r.Status != StatusUnhealthy || r.Reason != "store_unreachable" {
			t.Errorf("Evaluate() = %q/%q, want unhealthy/store_unreachable", r.Status, r.Reason)
		}
	})
}

func TestEvaluate_LogsTransitions(t *testing.T) {
	now := time.Now()
	tr := newTracker(now)
	core, logs := observer.New(zapcore.InfoLevel)
	e := NewEvaluatorWith(Config{Window: time.Minute, DegradedFallbackPct: 50}, tr, func() time.Time { return now }, zap.New(core))

	e.Evaluate(context.Background())
	record(tr, traffic.OutcomeFallback, 3)
	e.Evaluate(context.Background())

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["current_status"]; got != "degraded" {
		t.Errorf("current_status = %v, want degraded", got)
	}
}
