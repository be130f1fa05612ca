package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// requestCoalescer collapses concurrent misses for the same key into one
// upstream call. Followers wait for the leader's result.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

// callBudgetFactor scales the wait timeout into the shared call's budget, so a
// call started by a caller that gave up can still serve later followers.
const callBudgetFactor = 2

// newRequestCoalescer creates a coalescer. timeout bounds how long any caller
// waits; the shared call runs for up to callBudgetFactor times that.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of the in-flight call for key, starting fn if
// none is running. shared is true when the caller joined an existing call.
//
// fn receives a context detached from the leader's cancellation so that a
// leader giving up does not fail every follower.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func(context.Context) (T, error)) (result T, shared bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[T]{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		callCtx := context.WithoutCancel(ctx)
		go func() {
			defer rc.cleanup(key)
			callCtx, cancel := context.WithTimeout(callCtx, callBudgetFactor*rc.timeout)
			defer cancel()
			req.result, req.err = fn(callCtx)
			close(req.done)
		}()
	}

	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		var zero T
		return zero, exists, waitCtx.Err()
	}
}

// cleanup removes the in-flight request for key once it completes.
func (rc *requestCoalescer[T]) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}

// pending reports how many keys have a call in flight.
func (rc *requestCoalescer[T]) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
