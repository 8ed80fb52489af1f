// Package httpapi serves the public HTTP surface: the webhook intake the
// event provider posts to, the paginated read endpoints, and the health
// and metrics probes.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/credit-markets/vitalfi-backend/internal/circuitbreaker"
	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/ingest"
	"github.com/credit-markets/vitalfi-backend/internal/query"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Route labels for metrics and mux registration.
const (
	routeWebhook   = "/v1/events/webhook"
	routeVaults    = "/v1/vaults"
	routePositions = "/v1/positions"
	routeActivity  = "/v1/activity"
	routeHealthz   = "/healthz"
	routeMetrics   = "/metrics"
)

// Ingester drives one transaction event through the pipeline. In
// production this is *ingest.Ingester.
type Ingester interface {
	Ingest(ctx context.Context, evt *event.TransactionEvent) (ingest.Result, error)
}

// Queries answers the read endpoints. In production this is
// *query.Service.
type Queries interface {
	VaultsByAuthority(ctx context.Context, authority string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Vault], error)
	PositionsByOwner(ctx context.Context, owner string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Position], error)
	Timeline(ctx context.Context, scope query.TimelineScope, key string, cursor *int64, limit int64) (query.Page[*model.Activity], error)
}

// Pinger reports store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the upstream RPC breaker state for the health
// endpoint.
type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

// Config carries the knobs the HTTP layer needs.
type Config struct {
	Network          string
	WebhookToken     string
	RateLimitRPS     float64
	RateLimitBurst   int
	CORSOrigins      []string
	CacheMaxAge      time.Duration
	CacheStaleFactor int
}

// Server provides the public HTTP API.
type Server struct {
	ingester Ingester
	queries  Queries
	store    Pinger
	rpc      BreakerReporter
	cfg      Config
	hasher   Hasher
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewServer creates the API server. The rate limiter starts a background
// sweep goroutine; call Close to release it.
func NewServer(
	ingester Ingester,
	queries Queries,
	store Pinger,
	rpc BreakerReporter,
	cfg Config,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		ingester: ingester,
		queries:  queries,
		store:    store,
		rpc:      rpc,
		cfg:      cfg,
		hasher:   SHA256Hasher{},
		logger:   logger.With("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger)
	}
	return s
}

// ServerOption configures optional pieces of the API server.
type ServerOption func(*Server)

// WithHasher swaps the ETag hasher.
func WithHasher(h Hasher) ServerOption {
	return func(s *Server) { s.hasher = h }
}

// WithRateLimiter replaces the default rate limiter.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// Close stops the rate limiter's background sweep.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Handler returns the HTTP handler for the public API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+routeWebhook, instrument(routeWebhook, http.HandlerFunc(s.handleWebhook)))
	mux.Handle("GET "+routeVaults, instrument(routeVaults, http.HandlerFunc(s.handleVaults)))
	mux.Handle("GET "+routePositions, instrument(routePositions, http.HandlerFunc(s.handlePositions)))
	mux.Handle("GET "+routeActivity, instrument(routeActivity, http.HandlerFunc(s.handleActivity)))
	mux.Handle("GET "+routeHealthz, instrument(routeHealthz, http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET "+routeMetrics, promhttp.Handler())

	var h http.Handler = mux
	h = s.limiter.Wrap(h)
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match", "X-Request-ID"},
			MaxAge:         300,
		}).Handler(h)
	}
	h = accessLog(s.logger, h)
	h = requestID(h)
	h = recovery(s.logger, h)
	return h
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type healthResponse struct {
	Status  string `json:"status"`
	Redis   string `json:"redis"`
	Breaker string `json:"rpcBreaker"`
}

// handleHealthz reports store reachability and the RPC breaker state. An
// unreachable store is a 503; an open breaker degrades the report but the
// read path still works, so the status stays 200.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	breaker := s.rpc.BreakerState()
	resp := healthResponse{Status: "ok", Redis: "ok", Breaker: breaker.String()}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check store ping failed", "error", err)
		resp.Status = "degraded"
		resp.Redis = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if breaker == circuitbreaker.StateOpen {
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}
