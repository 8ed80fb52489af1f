package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/credit-markets/vitalfi-backend/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	// sweepInterval is how often the background goroutine sweeps stale entries.
	sweepInterval = 1 * time.Minute
)

// bucketRule pairs a request matcher with its token bucket parameters.
type bucketRule struct {
	name  string
	match func(r *http.Request) bool
	rps   rate.Limit
	burst int
}

// limiterEntry wraps a rate.Limiter with a last-accessed timestamp for
// TTL-based eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-IP token buckets. Webhook deliveries and public
// queries draw from separate buckets so provider fan-in cannot starve
// reads, and vice versa.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "bucket|clientIP"
	rules    []bucketRule
	logger   *slog.Logger
	nowFn    func() time.Time // injectable clock for eviction tests
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates the limiter and starts a background goroutine
// that periodically evicts idle per-IP entries. Call Stop to release it.
// Webhook deliveries get ten times the public allowance: the provider
// batches redeliveries into bursts the public rate would reject.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		logger:   logger,
		nowFn:    time.Now,
		stopCh:   make(chan struct{}),
		rules: []bucketRule{
			{
				name: "webhook",
				match: func(r *http.Request) bool {
					return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/events/")
				},
				rps:   rate.Limit(rps * 10),
				burst: burst * 10,
			},
			{
				name:  "query",
				match: func(*http.Request) bool { return true },
				rps:   rate.Limit(rps),
				burst: burst,
			},
		},
	}

	go rl.sweepLoop()
	return rl
}

// Stop shuts down the background sweep goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// Wrap returns an http.Handler that applies per-IP rate limiting before
// delegating to next. Probe routes bypass the limiter; kubelet and
// Prometheus must never see a 429.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == routeHealthz || r.URL.Path == routeMetrics {
			next.ServeHTTP(w, r)
			return
		}

		rule := rl.resolveRule(r)
		clientIP := extractClientIP(r)

		if !rl.allow(rule, clientIP) {
			metrics.HTTPRateLimited.WithLabelValues(rule.name).Inc()
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("rate limit exceeded",
				"bucket", rule.name,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LimiterCount returns the number of active limiter entries (for testing/monitoring).
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) resolveRule(r *http.Request) bucketRule {
	for _, rule := range rl.rules {
		if rule.match(r) {
			return rule
		}
	}
	// The last rule matches everything; this is unreachable.
	return rl.rules[len(rl.rules)-1]
}

// allow fetches or creates the per-IP limiter for the rule's bucket and
// takes one token.
func (rl *RateLimiter) allow(rule bucketRule, clientIP string) bool {
	now := rl.nowFn()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := rule.name + "|" + clientIP
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rule.rps, rule.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// sweepLoop runs periodically to remove stale per-IP limiters.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

// evictStale removes limiter entries that have not been accessed within the TTL.
func (rl *RateLimiter) evictStale() {
	now := rl.nowFn()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// extractClientIP determines the client's IP address from the request.
// It checks, in order: X-Forwarded-For (first IP), X-Real-IP, then
// r.RemoteAddr.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
