package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TestCorrelationIDMiddleware_GeneratesID verifies that a request without a
// correlation ID gets one, echoed in the response and visible downstream.
func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Context().Value("correlation_id"); v != nil {
			seen = v.(string)
		}
		if _, ok := r.Context().Value("logger").(*zap.Logger); !ok {
			t.Error("request-scoped logger missing from context")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	CorrelationIDMiddleware(zap.NewNop())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/London", nil))

	if seen == "" {
		t.Fatal("correlation ID missing from request context")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, seen)
	}
}

// TestCorrelationIDMiddleware_PreservesID verifies that a caller-supplied ID
// is propagated unchanged.
func TestCorrelationIDMiddleware_PreservesID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/weather/London", nil)
	req.Header.Set("X-Correlation-ID", "caller-id-123")
	rec := httptest.NewRecorder()
	CorrelationIDMiddleware(zap.NewNop())(inner).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "caller-id-123" {
		t.Errorf("response X-Correlation-ID = %q, want caller-id-123", got)
	}
}

// TestRateLimitMiddleware verifies 429 once the token bucket is exhausted and
// pass-through when no limiter is configured.
func TestRateLimitMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	handler := RateLimitMiddleware(limiter)(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/London", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/London", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if code := errorCode(t, rec); code != "RATE_LIMITED" {
		t.Errorf("error code = %q, want RATE_LIMITED", code)
	}
}

// TestRateLimitMiddleware_NilLimiter verifies the disabled path.
func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(nil)(inner)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/London", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

// TestTimeoutMiddleware verifies that the deadline reaches the handler.
func TestTimeoutMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok {
			t.Error("request context has no deadline")
		}
		if until := time.Until(deadline); until > 50*time.Millisecond {
			t.Errorf("deadline %v away, want at most 50ms", until)
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(50*time.Millisecond)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/London", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// TestRouteLabel verifies bounded-cardinality route labels.
func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/weather/London", "/weather/{city}"},
		{"/weather/New%20York", "/weather/{city}"},
		{"/favorites", "/favorites"},
		{"/favorites/abc-123", "/favorites/{id}"},
		{"/history", "/history"},
		{"/status/background", "/status/background"},
		{"/totally/unknown", "other"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if got := routeLabel(req); got != tc.want {
				t.Errorf("routeLabel(%s) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

// TestMetricsMiddleware_TracksInFlight verifies the in-flight counter rises
// during a request and settles back to zero.
func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := MetricsMiddleware(inner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather/London", nil))
	}()

	<-entered
	if InFlightCount() != 1 {
		t.Errorf("InFlightCount() = %d during request, want 1", InFlightCount())
	}
	close(release)
	<-done
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after request, want 0", InFlightCount())
	}
}
