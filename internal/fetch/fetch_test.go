package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/circuitbreaker"
	"github.com/kisansaathi/farmdata-service/internal/observability"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("lat"); got != "21.1" {
			t.Errorf("lat query = %q, want 21.1", got)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "" {
			t.Errorf("X-Correlation-ID = %q sent to a third-party upstream", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent not set")
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(Options{Name: "test", Timeout: time.Second})
	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	resp, err := c.Get(ctx, server.URL, url.Values{"lat": {"21.1"}}, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestClient_Do_ForwardsCorrelationIDWhenEnabled(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Correlation-ID"))
	}))
	defer server.Close()

	c := New(Options{Name: "internal", ForwardCorrelationID: true})
	ctx := observability.WithCorrelationID(context.Background(), "corr-2")
	if _, err := c.Get(ctx, server.URL, nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Load() != "corr-2" {
		t.Errorf("X-Correlation-ID = %v, want corr-2", got.Load())
	}
}

func TestClient_Do_PostsForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "__VIEWSTATE=abc" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Options{Name: "test"})
	if _, err := c.Do(context.Background(), Request{URL: server.URL, Form: url.Values{"__VIEWSTATE": {"abc"}}}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestClient_Do_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCat  apperr.Category
		wantCode int
	}{
		{"not found", http.StatusNotFound, apperr.CategoryHTTP, 404},
		{"server error", http.StatusBadGateway, apperr.CategoryHTTP, 502},
		{"rate limited", http.StatusTooManyRequests, apperr.CategoryHTTP, 429},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := New(Options{Name: "test"})
			_, err := c.Get(context.Background(), server.URL, nil, nil)
			if got := apperr.Categorize(err); got != tt.wantCat {
				t.Errorf("Categorize() = %q, want %q", got, tt.wantCat)
			}
			var statusErr *apperr.HTTPStatusError
			if !errors.As(err, &statusErr) || statusErr.Status != tt.wantCode {
				t.Errorf("error = %v, want HTTPStatusError{%d}", err, tt.wantCode)
			}
		})
	}
}

func TestClient_Do_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := New(Options{Name: "slow", Timeout: 50 * time.Millisecond})
	_, err := c.Get(context.Background(), server.URL, nil, nil)
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("Get() error = %v, want ErrTimeout", err)
	}
}

func TestClient_Do_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	c := New(Options{Name: "gone", Timeout: time.Second})
	_, err := c.Get(context.Background(), addr, nil, nil)
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("Get() error = %v, want ErrNetwork", err)
	}
}

func TestClient_Do_RetriesOnlyRetryable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"5xx retried", http.StatusServiceUnavailable, 3},
		{"4xx not retried", http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := New(Options{Name: "retry", RetryAttempts: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})
			if _, err := c.Get(context.Background(), server.URL, nil, nil); err == nil {
				t.Fatal("Get() expected error")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestClient_Do_DefaultIsSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, _ = New(Options{Name: "once"}).Get(context.Background(), server.URL, nil, nil)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestClient_Do_CircuitBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(Options{Name: "flaky"})
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{Name: "flaky", FailureThreshold: 1, Timeout: time.Hour}))

	_, _ = c.Get(context.Background(), server.URL, nil, nil)
	_, err := c.Get(context.Background(), server.URL, nil, nil)
	if !errors.Is(err, apperr.ErrCircuitOpen) {
		t.Fatalf("second Get() error = %v, want ErrCircuitOpen", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestClient_Session_KeepsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "s1", Path: "/"})
			return
		}
		if c, err := r.Cookie("ASP.NET_SessionId"); err != nil || c.Value != "s1" {
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	base := New(Options{Name: "agmarknet"})
	sess := base.Session()
	ctx := context.Background()
	if _, err := sess.Get(ctx, server.URL, nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := sess.Do(ctx, Request{URL: server.URL, Form: url.Values{"a": {"b"}}}); err != nil {
		t.Fatalf("POST in session error = %v", err)
	}
	if _, err := base.Do(ctx, Request{URL: server.URL, Form: url.Values{"a": {"b"}}}); err == nil {
		t.Error("POST outside session expected 403")
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := New(Options{RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond})
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{5, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}
