package chainstate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/credit-markets/vitalfi-backend/internal/circuitbreaker"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
	"github.com/credit-markets/vitalfi-backend/internal/retry"
	"github.com/credit-markets/vitalfi-backend/internal/tracing"
)

const (
	defaultMaxAttempts    = 4
	defaultBackoffInitial = 200 * time.Millisecond
	defaultBackoffMax     = 3 * time.Second

	methodAccounts = "getMultipleAccounts"
	methodSlot     = "getSlot"

	commitment = "confirmed"
)

// rpc is the client surface the fetcher wraps.
type rpc interface {
	GetMultipleAccounts(ctx context.Context, addresses []string) (map[string]Account, error)
	GetSlot(ctx context.Context, commitment string) (int64, error)
}

// FetcherConfig tunes retries, the circuit breaker, and the outbound
// rate limiter. Zero values take the defaults; RateLimitRPS of zero
// disables client-side pacing.
type FetcherConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerOpenTimeout      time.Duration
	OnBreakerStateChange    func(from, to circuitbreaker.State)
}

// Fetcher wraps the RPC client with transient-failure retries and a
// circuit breaker. Terminal failures return immediately; an open breaker
// rejects calls until its timeout elapses, leaving recovery to webhook
// redelivery.
type Fetcher struct {
	client         rpc
	breaker        *circuitbreaker.Breaker
	limiter        *Limiter
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	sleepFn        func(ctx context.Context, d time.Duration) error
	network        string
	logger         *slog.Logger
}

func NewFetcher(client rpc, cfg FetcherConfig, network string, logger *slog.Logger) *Fetcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoffInitial := cfg.BackoffInitial
	if backoffInitial <= 0 {
		backoffInitial = defaultBackoffInitial
	}
	backoffMax := cfg.BackoffMax
	if backoffMax <= 0 || backoffMax < backoffInitial {
		backoffMax = defaultBackoffMax
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		OnStateChange:    cfg.OnBreakerStateChange,
	})

	var limiter *Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = NewLimiter(cfg.RateLimitRPS, burst, network)
	}

	return &Fetcher{
		client:         client,
		breaker:        breaker,
		limiter:        limiter,
		maxAttempts:    maxAttempts,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		network:        network,
		logger:         logger.With("component", "chainstate"),
	}
}

// Accounts fetches the touched accounts for one event.
func (f *Fetcher) Accounts(ctx context.Context, addresses []string) (map[string]Account, error) {
	spanCtx, span := tracing.Tracer("chainstate").Start(ctx, "chainstate.accounts",
		otelTrace.WithAttributes(
			attribute.Int("accounts.requested", len(addresses)),
		))
	defer span.End()

	var out map[string]Account
	err := f.do(spanCtx, methodAccounts, func(ctx context.Context) error {
		var callErr error
		out, callErr = f.client.GetMultipleAccounts(ctx, addresses)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// Slot reads the current slot; healthz uses it as the liveness probe.
func (f *Fetcher) Slot(ctx context.Context) (int64, error) {
	var slot int64
	err := f.do(ctx, methodSlot, func(ctx context.Context) error {
		var callErr error
		slot, callErr = f.client.GetSlot(ctx, commitment)
		return callErr
	})
	return slot, err
}

// BreakerState exposes the breaker for health reporting.
func (f *Fetcher) BreakerState() circuitbreaker.State {
	return f.breaker.State()
}

func (f *Fetcher) do(ctx context.Context, method string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := f.breaker.Allow(); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		// Pace after the breaker gate so an open breaker never burns
		// tokens a recovering call will need.
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
		}

		err := call(ctx)
		if err == nil {
			f.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := retry.Classify(err)
		if !decision.IsTransient() {
			// Terminal errors are request bugs, not upstream health; they
			// never count toward opening the breaker.
			metrics.RPCErrors.WithLabelValues(f.network, method).Inc()
			return fmt.Errorf("%s terminal failure (%s): %w", method, decision.Reason, err)
		}
		f.breaker.RecordFailure()

		if attempt == f.maxAttempts {
			break
		}
		metrics.RPCRetries.WithLabelValues(f.network, method).Inc()
		delay := f.retryDelay(attempt)
		f.logger.Warn("transient rpc failure, backing off",
			"method", method,
			"attempt", attempt,
			"delay", delay,
			"reason", decision.Reason,
			"error", err,
		)
		if err := f.sleep(ctx, delay); err != nil {
			return err
		}
	}
	metrics.RPCErrors.WithLabelValues(f.network, method).Inc()
	return fmt.Errorf("%s failed after %d attempts: %w", method, f.maxAttempts, lastErr)
}

// retryDelay doubles per attempt up to the cap, then adds up to 20%
// jitter so synchronized webhook retries spread out.
func (f *Fetcher) retryDelay(attempt int) time.Duration {
	delay := f.backoffInitial
	for i := 1; i < attempt; i++ {
		if delay >= f.backoffMax/2 {
			delay = f.backoffMax
			break
		}
		delay *= 2
	}
	if delay > f.backoffMax {
		delay = f.backoffMax
	}
	return delay + time.Duration(rand.Int64N(int64(delay/5)+1))
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if f.sleepFn != nil {
		return f.sleepFn(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
