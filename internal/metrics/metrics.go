package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters, gauges, and histograms for every ingestion stage, partitioned
// by network where the value differs between devnet and mainnet.

var (
	// Webhook intake
	WebhookEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "webhook",
		Name:      "events_received_total",
		Help:      "Total transaction events received on the webhook endpoint",
	}, []string{"network"})

	WebhookAuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "webhook",
		Name:      "auth_failures_total",
		Help:      "Total webhook requests rejected for bad or missing auth token",
	}, []string{"network"})

	WebhookInvalidEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "webhook",
		Name:      "invalid_events_total",
		Help:      "Total events rejected by payload validation",
	}, []string{"network"})

	// Account decoding
	DecodeAccountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "decode",
		Name:      "accounts_total",
		Help:      "Total program accounts decoded, by account kind",
	}, []string{"network", "kind"})

	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "decode",
		Name:      "failures_total",
		Help:      "Total accounts that matched no known layout or failed to decode",
	}, []string{"network"})

	// Ingestion
	IngestEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "events_processed_total",
		Help:      "Total transaction events fully processed",
	}, []string{"network"})

	IngestEventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "event_errors_total",
		Help:      "Total events that failed processing (after retry exhaustion)",
	}, []string{"network"})

	IngestSubjectsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "subjects_upserted_total",
		Help:      "Total vault and position records written, by subject kind",
	}, []string{"network", "kind"})

	IngestStaleSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "stale_skips_total",
		Help:      "Total account observations skipped because a newer slot was already indexed",
	}, []string{"network"})

	IngestClosuresInferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "closures_inferred_total",
		Help:      "Total deleted accounts transitioned to CLOSED from log evidence",
	}, []string{"network", "kind"})

	IngestEventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitalfi",
		Subsystem: "ingest",
		Name:      "event_duration_seconds",
		Help:      "End-to-end event processing duration (fetch, decode, reconcile, write)",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"network"})

	// Store writes
	StoreApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitalfi",
		Subsystem: "store",
		Name:      "apply_duration_seconds",
		Help:      "Mutation plan apply duration (Redis MULTI/EXEC)",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"network"})

	StoreWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Total mutation plan applies that failed",
	}, []string{"network"})

	// Activity ledger
	LedgerActivitiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ledger",
		Name:      "activities_created_total",
		Help:      "Total activity entries created, by activity type",
	}, []string{"network", "activity_type"})

	LedgerDuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ledger",
		Name:      "duplicates_skipped_total",
		Help:      "Total activity entries skipped because the idempotency key already existed",
	}, []string{"network"})

	LedgerTimelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "ledger",
		Name:      "timeline_errors_total",
		Help:      "Total timeline index writes that failed after the entry was created",
	}, []string{"network"})

	// Query service
	QueryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "query",
		Name:      "requests_total",
		Help:      "Total query service calls, by query kind",
	}, []string{"network", "kind"})

	QueryFallbackScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "query",
		Name:      "fallback_scans_total",
		Help:      "Total queries served by the legacy set fallback path",
	}, []string{"network", "kind"})

	QueryFallbackOversize = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "query",
		Name:      "fallback_oversize_total",
		Help:      "Total fallback scans rejected for exceeding the hard member cap",
	}, []string{"network", "kind"})

	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitalfi",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Query service call duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"network", "kind"})

	// HTTP server
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests, by route, method, and status code",
	}, []string{"route", "method", "status"})

	HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitalfi",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method"})

	HTTPNotModifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "http",
		Name:      "not_modified_total",
		Help:      "Total requests answered 304 by the ETag gate",
	}, []string{"route"})

	HTTPRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the per-IP rate limiter, by bucket",
	}, []string{"bucket"})

	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vitalfi",
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "Current number of HTTP requests being served",
	})

	// Chain-state RPC
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Total chain-state RPC requests, by method",
	}, []string{"network", "method"})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "errors_total",
		Help:      "Total chain-state RPC failures (after retry exhaustion)",
	}, []string{"network", "method"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Total chain-state RPC retry attempts",
	}, []string{"network", "method"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "Chain-state RPC request duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"network", "method"})

	RPCBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "breaker_state",
		Help:      "RPC circuit breaker state (0=CLOSED, 1=HALF_OPEN, 2=OPEN)",
	}, []string{"network"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total chain-state RPC calls delayed by the client-side rate limiter",
	}, []string{"network"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitalfi",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
