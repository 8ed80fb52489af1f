package httpapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rps float64, burst int) *RateLimiter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimiter(rps, burst, logger)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_AllowsNormalRequests(t *testing.T) {
	rl := newTestLimiter(t, 10, 20)
	handler := rl.Wrap(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeVaults, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimiter_BlocksExcessiveRequests(t *testing.T) {
	// Query bucket: burst 1, negligible refill.
	rl := newTestLimiter(t, 0.001, 1)
	handler := rl.Wrap(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeVaults, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, routeVaults, nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
}

func TestRateLimiter_WebhookAndQueryBucketsIndependent(t *testing.T) {
	rl := newTestLimiter(t, 0.001, 1)
	handler := rl.Wrap(okHandler())

	// Exhaust the query bucket.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, routeVaults, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeVaults, nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("query bucket should be exhausted, got %d", rec.Code)
	}

	// Webhook deliveries still pass: separate bucket, ten times the burst.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, routeWebhook, nil))
	if rec2.Code != http.StatusOK {
		t.Errorf("webhook request: expected 200, got %d", rec2.Code)
	}
}

func TestRateLimiter_SeparateIPsIndependent(t *testing.T) {
	rl := newTestLimiter(t, 0.001, 1)
	handler := rl.Wrap(okHandler())

	reqA := httptest.NewRequest(http.MethodGet, routeVaults, nil)
	reqA.RemoteAddr = "198.51.100.7:40000"
	handler.ServeHTTP(httptest.NewRecorder(), reqA)

	reqA2 := httptest.NewRequest(http.MethodGet, routeVaults, nil)
	reqA2.RemoteAddr = "198.51.100.7:40001"
	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, reqA2)
	if recA.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP: expected 429, got %d", recA.Code)
	}

	reqB := httptest.NewRequest(http.MethodGet, routeVaults, nil)
	reqB.RemoteAddr = "203.0.113.9:40000"
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	if recB.Code != http.StatusOK {
		t.Errorf("different IP: expected 200, got %d", recB.Code)
	}
}

func TestRateLimiter_ProbesExempt(t *testing.T) {
	rl := newTestLimiter(t, 0.001, 1)
	handler := rl.Wrap(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeHealthz, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("healthz request %d: expected 200, got %d", i, rec.Code)
		}

		rec2 := httptest.NewRecorder()
		handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, routeMetrics, nil))
		if rec2.Code != http.StatusOK {
			t.Fatalf("metrics request %d: expected 200, got %d", i, rec2.Code)
		}
	}
	if rl.LimiterCount() != 0 {
		t.Errorf("probe routes must not create limiter entries, got %d", rl.LimiterCount())
	}
}

func TestRateLimiter_EvictsStaleEntries(t *testing.T) {
	rl := newTestLimiter(t, 10, 20)
	// Halt the background sweeper so the test owns the clock.
	rl.Stop()
	handler := rl.Wrap(okHandler())

	base := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	rl.nowFn = func() time.Time { return base }

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, routeVaults, nil))
	if rl.LimiterCount() != 1 {
		t.Fatalf("expected 1 limiter entry, got %d", rl.LimiterCount())
	}

	rl.nowFn = func() time.Time { return base.Add(staleLimiterTTL + time.Second) }
	rl.evictStale()

	if rl.LimiterCount() != 0 {
		t.Errorf("expected stale entry evicted, got %d", rl.LimiterCount())
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr with port", "192.0.2.1:1234", "", "", "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", "", "", "192.0.2.1"},
		{"x-forwarded-for single", "192.0.2.1:1234", "203.0.113.5", "", "203.0.113.5"},
		{"x-forwarded-for chain takes first", "192.0.2.1:1234", "203.0.113.5, 70.41.3.18", "", "203.0.113.5"},
		{"x-real-ip", "192.0.2.1:1234", "", "203.0.113.9", "203.0.113.9"},
		{"x-forwarded-for wins over x-real-ip", "192.0.2.1:1234", "203.0.113.5", "203.0.113.9", "203.0.113.5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}

			if got := extractClientIP(req); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
