package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/alert"
	"github.com/credit-markets/vitalfi-backend/internal/cache"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
	"github.com/credit-markets/vitalfi-backend/internal/store"
)

const (
	seenCacheSize = 4096
	seenCacheTTL  = 10 * time.Minute
)

// Ledger records derived activities exactly once and maintains the
// per-subject and per-wallet timeline indices.
type Ledger struct {
	store     store.ActivityStore
	keys      store.Keys
	seen      *cache.Recent[string]
	retention time.Duration
	network   string
	alerter   alert.Alerter
	logger    *slog.Logger
}

// New creates a Ledger. retention <= 0 keeps activity entries forever.
func New(st store.ActivityStore, keys store.Keys, network string, retention time.Duration, alerter alert.Alerter, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:     st,
		keys:      keys,
		seen:      cache.NewRecent[string](seenCacheSize, seenCacheTTL),
		retention: retention,
		network:   network,
		alerter:   alerter,
		logger:    logger.With("component", "ledger"),
	}
}

// Record persists each activity under its (signature, type, slot) identity.
// Entries that already exist are skipped and never re-added to timelines, so
// webhook redelivery counts each activity once. A failed create aborts with
// an error; the caller's redelivery retries the remainder. Timeline index
// failures never abort: the activity blob is the source of truth and the
// timelines can be rebuilt from it.
func (l *Ledger) Record(ctx context.Context, activities []*model.Activity) (int, error) {
	created := 0
	for _, a := range activities {
		key := l.keys.Activity(a.Signature, a.Type, a.Slot)

		if l.seen.Seen(key) {
			metrics.LedgerDuplicatesSkipped.WithLabelValues(l.network).Inc()
			continue
		}

		ok, err := l.store.CreateActivity(ctx, key, a, l.retention)
		if err != nil {
			return created, fmt.Errorf("creating activity %s: %w", key, err)
		}
		l.seen.Observe(key)

		if !ok {
			metrics.LedgerDuplicatesSkipped.WithLabelValues(l.network).Inc()
			l.logger.Debug("activity already recorded", "key", key)
			continue
		}
		created++
		metrics.LedgerActivitiesCreated.WithLabelValues(l.network, string(a.Type)).Inc()

		timelines := l.timelineKeys(a)
		if len(timelines) == 0 {
			continue
		}
		if err := l.store.AddToTimelines(ctx, key, timelineScore(a), timelines...); err != nil {
			metrics.LedgerTimelineErrors.WithLabelValues(l.network).Inc()
			l.logger.Error("timeline index write failed",
				"key", key,
				"timelines", len(timelines),
				"error", err,
			)
			l.sendWriteAlert(ctx, key, err)
		}
	}
	return created, nil
}

// timelineKeys resolves the timeline zsets an activity belongs to. The vault
// and position addresses feed subject timelines; the authority and owner
// feed wallet timelines. Duplicate keys are collapsed.
func (l *Ledger) timelineKeys(a *model.Activity) []string {
	var keys []string
	seen := make(map[string]struct{}, 4)
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	if a.Vault != "" {
		add(l.keys.SubjectTimeline(a.Vault))
	}
	if a.Position != "" {
		add(l.keys.SubjectTimeline(a.Position))
	}
	if a.Owner != "" {
		add(l.keys.WalletTimeline(a.Owner))
	}
	if a.Authority != "" {
		add(l.keys.WalletTimeline(a.Authority))
	}
	return keys
}

// timelineScore orders timelines by block time when the provider supplied
// one, falling back to the slot.
func timelineScore(a *model.Activity) int64 {
	if a.BlockTime != nil {
		return a.BlockTime.Unix()
	}
	return a.Slot
}

func (l *Ledger) sendWriteAlert(ctx context.Context, key string, err error) {
	alertErr := l.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeWriteFailure,
		Network: l.network,
		Title:   "Timeline index write failed",
		Message: err.Error(),
		Fields:  map[string]string{"activity_key": key},
	})
	if alertErr != nil {
		l.logger.Warn("failed to send alert", "error", alertErr)
	}
}
