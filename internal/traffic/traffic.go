package traffic

import (
	"sync"
	"time"
)

// Outcome classifies how a data request was answered.
type Outcome int

const (
	// OutcomeLive means real upstream or cached upstream data was served.
	OutcomeLive Outcome = iota
	// OutcomeFallback means every real source failed and synthetic data was served.
	OutcomeFallback
	// OutcomeError means the request failed outright (e.g. credential missing).
	OutcomeError
	// OutcomeDenied means the rate limiter rejected the request (429).
	OutcomeDenied
	outcomeCount
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLive:
		return "live"
	case OutcomeFallback:
		return "fallback"
	case OutcomeError:
		return "error"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// maxAge bounds how long timestamps are retained; windows longer than this undercount.
const maxAge = 30 * time.Minute

var defaultTracker = NewTracker(nil)

// Default returns the process-wide tracker.
func Default() *Tracker {
	return defaultTracker
}

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Count returns the number of outcomes of kind o within the window.
func Count(o Outcome, window time.Duration) int {
	return defaultTracker.Count(o, window)
}

// RequestCount returns the number of outcomes of every kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// FallbackRate returns (fallback+error, served) within the window. Denials are excluded.
func FallbackRate(window time.Duration) (degraded, total int) {
	return defaultTracker.FallbackRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu    sync.Mutex
	times [outcomeCount][]time.Time
	now   func() time.Time
}

// NewTracker returns a tracker using now as its clock (time.Now when nil).
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends the current time to the outcome's window.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= outcomeCount {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= outcomeCount {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.times[o], t.now().Add(-window))
}

// RequestCount returns the number of outcomes of every kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for o := range t.times {
		n += countInWindow(t.times[o], cutoff)
	}
	return n
}

// FallbackRate returns (fallback+error, live+fallback+error) within the window.
func (t *Tracker) FallbackRate(window time.Duration) (degraded, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	live := countInWindow(t.times[OutcomeLive], cutoff)
	degraded = countInWindow(t.times[OutcomeFallback], cutoff) + countInWindow(t.times[OutcomeError], cutoff)
	return degraded, live + degraded
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
