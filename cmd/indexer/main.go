package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/credit-markets/vitalfi-backend/internal/alert"
	"github.com/credit-markets/vitalfi-backend/internal/chainstate"
	"github.com/credit-markets/vitalfi-backend/internal/circuitbreaker"
	"github.com/credit-markets/vitalfi-backend/internal/config"
	"github.com/credit-markets/vitalfi-backend/internal/httpapi"
	"github.com/credit-markets/vitalfi-backend/internal/ingest"
	"github.com/credit-markets/vitalfi-backend/internal/ledger"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
	"github.com/credit-markets/vitalfi-backend/internal/normalize"
	"github.com/credit-markets/vitalfi-backend/internal/query"
	"github.com/credit-markets/vitalfi-backend/internal/reconcile"
	"github.com/credit-markets/vitalfi-backend/internal/store/redisstore"
	"github.com/credit-markets/vitalfi-backend/internal/tracing"
)

const shutdownGrace = 5 * time.Second

func main() {
	// Setup logger
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting vitalfi-indexer",
		"network", cfg.Solana.Network,
		"program_id", cfg.Solana.VaultProgramID,
		"rpc_url", cfg.Solana.RPCURL,
		"redis_url", config.RedactURL(cfg.Redis.URL),
		"http_port", cfg.Server.Port,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "vitalfi-indexer", tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRate)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_rate", cfg.Tracing.SampleRate)
	}

	// Connect to Redis
	st, err := redisstore.New(cfg.Redis.URL, cfg.Redis.KeyPrefix, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err, "redis_url", config.RedactURL(cfg.Redis.URL))
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("connected to redis", "key_prefix", cfg.Redis.KeyPrefix)

	alerter := buildAlerter(cfg, logger)

	// Chain state access: RPC client behind retries and a circuit breaker
	client := chainstate.NewClient(cfg.Solana.RPCURL, cfg.Solana.Network, cfg.Solana.RPCTimeout, logger)
	fetcher := chainstate.NewFetcher(client, chainstate.FetcherConfig{
		MaxAttempts:          cfg.Solana.MaxRetries,
		RateLimitRPS:         cfg.Solana.RateLimitRPS,
		RateLimitBurst:       cfg.Solana.RateLimitBurst,
		OnBreakerStateChange: breakerHook(cfg.Solana.Network, alerter, logger),
	}, cfg.Solana.Network, logger)

	// Ingestion pipeline
	normalizer := normalize.New(logger)
	reconciler := reconcile.New(st, logger)
	recorder := ledger.New(st, st.Keys(), cfg.Solana.Network, cfg.Ledger.ActivityRetention, alerter, logger)
	ingester := ingest.New(fetcher, normalizer, reconciler, st, recorder, cfg.Solana.VaultProgramID, cfg.Solana.Network, logger)

	// Read side
	queries := query.New(st, st.Keys(), query.Limits{
		DefaultLimit:     cfg.Query.DefaultLimit,
		MaxLimit:         cfg.Query.MaxLimit,
		FallbackWarnSize: cfg.Query.FallbackWarnSize,
		FallbackMaxSize:  cfg.Query.FallbackMaxSize,
	}, cfg.Solana.Network, alerter, logger)

	api := httpapi.NewServer(ingester, queries, st, fetcher, httpapi.Config{
		Network:          cfg.Solana.Network,
		WebhookToken:     cfg.Webhook.AuthToken,
		RateLimitRPS:     cfg.Server.RateLimitRPS,
		RateLimitBurst:   cfg.Server.RateLimitBurst,
		CORSOrigins:      cfg.Server.CORSOrigins,
		CacheMaxAge:      cfg.Cache.MaxAge,
		CacheStaleFactor: cfg.Cache.StaleFactor,
	}, logger)
	defer api.Close()

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// API server
	g.Go(func() error {
		return runAPIServer(gCtx, cfg.Server.Port, api.Handler(), logger)
	})

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("indexer shut down gracefully")
}

// buildAlerter assembles the alert fan-out from config. With no channels
// configured the multi-alerter still dedupes and logs.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
		logger.Info("slack alerts enabled")
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

// breakerHook publishes breaker transitions to the state gauge and the
// alert channels. The breaker invokes it while holding its own lock, so
// alert delivery happens on a separate goroutine.
func breakerHook(network string, alerter alert.Alerter, logger *slog.Logger) func(from, to circuitbreaker.State) {
	return func(from, to circuitbreaker.State) {
		metrics.RPCBreakerState.WithLabelValues(network).Set(float64(to))
		logger.Warn("rpc breaker state changed", "from", from.String(), "to", to.String())

		var a alert.Alert
		switch to {
		case circuitbreaker.StateOpen:
			a = alert.Alert{
				Type:    alert.AlertTypeRPCBreaker,
				Network: network,
				Title:   "RPC circuit breaker opened",
				Message: fmt.Sprintf("RPC calls are failing; breaker moved from %s to %s. Ingestion relies on webhook redelivery until it recovers.", from, to),
			}
		case circuitbreaker.StateClosed:
			a = alert.Alert{
				Type:    alert.AlertTypeRecovery,
				Network: network,
				Title:   "RPC circuit breaker closed",
				Message: "RPC calls are succeeding again.",
			}
		default:
			return
		}

		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := alerter.Send(sendCtx, a); err != nil {
				logger.Warn("failed to send breaker alert", "error", err)
			}
		}()
	}
}

func runAPIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("api server shutdown error", "error", err)
		}
	}()

	logger.Info("api server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
