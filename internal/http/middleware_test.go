package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/traffic"
)

func TestCorrelationIDMiddleware_MintsAndTagsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := CorrelationIDMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("handled")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	got := rr.Header().Get(correlationHeader)
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("minted ID %q is not a UUID: %v", got, err)
	}
	if seen != got {
		t.Errorf("context ID = %q, header = %q", seen, got)
	}
	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if id := entries[0].ContextMap()["correlation_id"]; id != got {
		t.Errorf("logged correlation_id = %v, want %q", id, got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/location/manual/{userId}", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
		if route := getRoute(r); route != "/location/manual/{userId}" {
			t.Errorf("route = %q, want the path template", route)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	before := InFlightCount()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/location/manual/u-1", nil))

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("getRoute() = %q, want unmatched", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok {
			t.Fatal("no deadline on request context")
		}
		if remaining := time.Until(deadline); remaining > 50*time.Millisecond {
			t.Errorf("remaining = %v, want <= 50ms", remaining)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRateLimitMiddleware(t *testing.T) {
	traffic.Reset()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("nil limiter passes through", func(t *testing.T) {
		h := RateLimitMiddleware(nil)(ok)
		for i := 0; i < 5; i++ {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d", i, rr.Code)
			}
		}
	})

	t.Run("denial is counted as traffic", func(t *testing.T) {
		h := RateLimitMiddleware(rate.NewLimiter(rate.Limit(0.001), 1))(ok)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		before := traffic.Default().RequestCount(time.Minute)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rr.Code)
		}
		if after := traffic.Default().RequestCount(time.Minute); after != before+1 {
			t.Errorf("request count = %d, want %d", after, before+1)
		}
	})
}
