// Package ingest drives one webhook event end to end: fetch the touched
// accounts, decode the program-owned ones, reconcile against the cached
// records, apply the mutation plan, record the derived activities.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/credit-markets/vitalfi-backend/internal/chainstate"
	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
	"github.com/credit-markets/vitalfi-backend/internal/normalize"
	"github.com/credit-markets/vitalfi-backend/internal/reconcile"
	"github.com/credit-markets/vitalfi-backend/internal/schema"
	"github.com/credit-markets/vitalfi-backend/internal/store"
	"github.com/credit-markets/vitalfi-backend/internal/tracing"
)

// Fetcher reads the current chain state of the addresses one event
// touched.
type Fetcher interface {
	Accounts(ctx context.Context, addresses []string) (map[string]chainstate.Account, error)
}

// Recorder persists derived activity drafts idempotently.
type Recorder interface {
	Record(ctx context.Context, activities []*model.Activity) (int, error)
}

// Result summarizes one ingested event for the webhook response.
type Result struct {
	SubjectsUpserted  int
	ActivitiesCreated int
}

// Ingester processes webhook events one at a time. Running several
// instances is safe: the slot gate makes subject writes converge and the
// ledger keys absorb replays.
type Ingester struct {
	fetcher    Fetcher
	normalizer *normalize.Normalizer
	reconciler *reconcile.Reconciler
	writer     store.SubjectWriter
	recorder   Recorder
	programID  string
	network    string
	logger     *slog.Logger
	nowFn      func() time.Time
}

func New(
	fetcher Fetcher,
	normalizer *normalize.Normalizer,
	reconciler *reconcile.Reconciler,
	writer store.SubjectWriter,
	recorder Recorder,
	programID string,
	network string,
	logger *slog.Logger,
) *Ingester {
	return &Ingester{
		fetcher:    fetcher,
		normalizer: normalizer,
		reconciler: reconciler,
		writer:     writer,
		recorder:   recorder,
		programID:  programID,
		network:    network,
		logger:     logger.With("component", "ingester"),
		nowFn:      time.Now,
	}
}

// Ingest runs the full pipeline for one event. Validation failures and
// store errors come back as errors (the webhook provider redelivers);
// stale-gate and decode skips do not.
func (ing *Ingester) Ingest(ctx context.Context, evt *event.TransactionEvent) (Result, error) {
	spanCtx, span := tracing.Tracer("ingest").Start(ctx, "ingest.event",
		otelTrace.WithAttributes(
			attribute.String("signature", evt.Signature),
			attribute.Int64("slot", evt.Slot),
			attribute.Int("accounts.touched", len(evt.Accounts)),
		))
	defer span.End()

	start := time.Now()
	res, err := ing.process(spanCtx, evt)
	metrics.IngestEventLatency.WithLabelValues(ing.network).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.IngestEventErrors.WithLabelValues(ing.network).Inc()
		return Result{}, err
	}
	metrics.IngestEventsProcessed.WithLabelValues(ing.network).Inc()
	return res, nil
}

func (ing *Ingester) process(ctx context.Context, evt *event.TransactionEvent) (Result, error) {
	if err := evt.Validate(); err != nil {
		return Result{}, err
	}

	eventTime, ok := evt.BlockTimestamp()
	if !ok {
		eventTime = ing.nowFn().UTC()
	}

	addresses := uniqueAddresses(evt.Accounts)
	accounts, err := ing.fetcher.Accounts(ctx, addresses)
	if err != nil {
		return Result{}, fmt.Errorf("fetching %d accounts for %s: %w", len(addresses), evt.Signature, err)
	}

	observations := ing.observe(addresses, accounts, evt.Slot, eventTime)

	rec, err := ing.reconciler.Build(ctx, evt, eventTime, observations)
	if err != nil {
		return Result{}, fmt.Errorf("reconciling event %s: %w", evt.Signature, err)
	}
	if rec.StaleSkips > 0 {
		metrics.IngestStaleSkips.WithLabelValues(ing.network).Add(float64(rec.StaleSkips))
	}

	if !rec.Plan.Empty() {
		applyStart := time.Now()
		err := ing.writer.ApplyPlan(ctx, rec.Plan)
		metrics.StoreApplyLatency.WithLabelValues(ing.network).Observe(time.Since(applyStart).Seconds())
		if err != nil {
			metrics.StoreWriteFailures.WithLabelValues(ing.network).Inc()
			return Result{}, fmt.Errorf("applying plan for %s: %w", evt.Signature, err)
		}
		ing.countApplied(rec)
	}

	created, err := ing.recorder.Record(ctx, rec.Activities)
	if err != nil {
		// The plan is already applied; redelivery re-runs the event
		// idempotently (equal slots pass the gate, activity keys dedupe).
		return Result{}, fmt.Errorf("recording activities for %s: %w", evt.Signature, err)
	}

	ing.logger.Debug("event ingested",
		"signature", evt.Signature,
		"slot", evt.Slot,
		"subjects", rec.Applied,
		"activities", created,
		"stale_skips", rec.StaleSkips,
		"absent_skips", rec.AbsentSkips,
	)

	return Result{SubjectsUpserted: rec.Applied, ActivitiesCreated: created}, nil
}

// observe turns fetched accounts into reconciler observations. Vanished
// accounts become absence markers; accounts owned by other programs or
// matching no known layout are skipped.
func (ing *Ingester) observe(addresses []string, accounts map[string]chainstate.Account, slot int64, eventTime time.Time) []reconcile.Observation {
	observations := make([]reconcile.Observation, 0, len(addresses))
	for _, addr := range addresses {
		acc := accounts[addr]
		if !acc.Exists {
			observations = append(observations, reconcile.Observation{Address: addr, Absent: true})
			continue
		}
		if acc.Owner != ing.programID {
			continue
		}

		decoded, err := schema.Decode(acc.Data)
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(ing.network).Inc()
			ing.logger.Debug("undecodable program account skipped", "account", addr, "error", err)
			continue
		}
		metrics.DecodeAccountsTotal.WithLabelValues(ing.network, string(decoded.Kind)).Inc()

		switch decoded.Kind {
		case schema.KindVault:
			observations = append(observations, reconcile.Observation{
				Address: addr,
				Vault:   ing.normalizer.Vault(addr, decoded.Vault, slot, eventTime),
			})
		case schema.KindPosition:
			observations = append(observations, reconcile.Observation{
				Address:  addr,
				Position: ing.normalizer.Position(addr, decoded.Position, slot, eventTime),
			})
		}
	}
	return observations
}

func (ing *Ingester) countApplied(rec *reconcile.Result) {
	for _, s := range rec.Plan.Subjects {
		kind := "vault"
		if s.Position != nil {
			kind = "position"
		}
		metrics.IngestSubjectsUpserted.WithLabelValues(ing.network, kind).Inc()
	}
	if rec.VaultClosures > 0 {
		metrics.IngestClosuresInferred.WithLabelValues(ing.network, "vault").Add(float64(rec.VaultClosures))
	}
	if rec.PositionClosures > 0 {
		metrics.IngestClosuresInferred.WithLabelValues(ing.network, "position").Add(float64(rec.PositionClosures))
	}
}

// uniqueAddresses preserves first-seen order; webhook payloads repeat
// accounts freely.
func uniqueAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
