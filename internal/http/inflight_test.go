package http

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInFlightTracker_Count(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()
	tracker.Increment()
	tracker.Decrement()
	if got := tracker.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	t.Run("drains", func(t *testing.T) {
		tracker := &InFlightTracker{}
		tracker.Increment()
		go func() {
			time.Sleep(20 * time.Millisecond)
			tracker.Decrement()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err != nil {
			t.Errorf("WaitForZero() = %v, want nil", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		tracker := &InFlightTracker{}
		tracker.Increment()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if err := tracker.WaitForZero(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WaitForZero() = %v, want DeadlineExceeded", err)
		}
	})
}
