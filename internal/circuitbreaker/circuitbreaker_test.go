package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var transitions []string
	cb := New(Config{
		Name:             "agmarknet",
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()
	fail := func() error { return apperr.ErrTimeout }

	_ = cb.Call(ctx, fail)
	if cb.State() != StateClosed {
		t.Fatalf("State() after 1 failure = %v, want closed", cb.State())
	}
	_ = cb.Call(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("State() after 2 failures = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, apperr.ErrCircuitOpen) {
		t.Fatalf("Call() while open error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while circuit open")
	}

	clock.Advance(time.Minute)
	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("probe Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() after successful probe = %v, want closed", cb.State())
	}
	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{Name: "ipinfo", FailureThreshold: 1, Timeout: time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return apperr.ErrNetwork })
	clock.Advance(2 * time.Second)
	_ = cb.Call(ctx, func() error { return apperr.ErrNetwork })
	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreaker_NonRetryableErrorsDoNotCount(t *testing.T) {
	cb := New(Config{Name: "agmarknet", FailureThreshold: 1})
	ctx := context.Background()

	err := cb.Call(ctx, func() error { return apperr.ErrParse })
	if !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("Call() error = %v, want ErrParse passed through", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed (parse errors are not upstream failures)", cb.State())
	}
}
