package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/alert"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
	"github.com/credit-markets/vitalfi-backend/internal/store"
)

// ErrScanLimitExceeded reports a legacy membership set too large to scan on
// the fallback path. Callers should surface it as a retryable condition; the
// ordered index backfills on the next write to the scope.
var ErrScanLimitExceeded = errors.New("legacy set exceeds fallback scan limit")

// TimelineScope selects which timeline family a key addresses.
type TimelineScope string

const (
	TimelineSubject TimelineScope = "subject"
	TimelineWallet  TimelineScope = "wallet"
)

const (
	kindVaults    = "vaults"
	kindPositions = "positions"
	kindTimeline  = "timeline"
)

// Page is one cursor-delimited result window. NextCursor is set only when
// HasMore; passing it back returns the strictly-older remainder.
type Page[T any] struct {
	Items      []T
	NextCursor *int64
	HasMore    bool
}

// Storage is the slice of the store the query service reads.
type Storage interface {
	store.SubjectReader
	store.IndexReader
	store.ActivityStore
}

// Limits bounds page sizes and the legacy-set fallback scan.
type Limits struct {
	DefaultLimit     int64
	MaxLimit         int64
	FallbackWarnSize int64
	FallbackMaxSize  int64
}

// Service answers paginated reads over vaults, positions, and activity
// timelines. Ordered zset indices are the fast path; scopes whose index has
// not been built yet fall back to a bounded scan of the legacy membership
// set with identical page semantics.
type Service struct {
	st      Storage
	keys    store.Keys
	limits  Limits
	network string
	alerter alert.Alerter
	logger  *slog.Logger
}

func New(st Storage, keys store.Keys, limits Limits, network string, alerter alert.Alerter, logger *slog.Logger) *Service {
	return &Service{
		st:      st,
		keys:    keys,
		limits:  limits,
		network: network,
		alerter: alerter,
		logger:  logger.With("component", "query"),
	}
}

// VaultsByAuthority returns the authority's vaults, newest update first.
func (s *Service) VaultsByAuthority(ctx context.Context, authority string, status *model.VaultStatus, cursor *int64, limit int64) (Page[*model.Vault], error) {
	start := time.Now()
	defer func() {
		metrics.QueryLatency.WithLabelValues(s.network, kindVaults).Observe(time.Since(start).Seconds())
	}()
	metrics.QueryRequestsTotal.WithLabelValues(s.network, kindVaults).Inc()
	limit = s.clampLimit(limit)

	indexKey := s.keys.VaultsByAuthorityIndex(authority)
	if status != nil {
		indexKey = s.keys.VaultsByAuthorityStatusIndex(authority, *status)
	}

	res, err := s.st.RevRangeByScore(ctx, indexKey, cursor, limit+1)
	if err != nil {
		return Page[*model.Vault]{}, fmt.Errorf("reading vault index %s: %w", indexKey, err)
	}
	if !res.IndexBuilt {
		return s.fallbackVaults(ctx, authority, status, cursor, limit)
	}

	p := page(res.Members, limit, func(m store.ScoredMember) int64 { return m.Score })
	vaults, err := s.st.GetVaults(ctx, memberAddrs(p.Items))
	if err != nil {
		return Page[*model.Vault]{}, fmt.Errorf("hydrating vaults: %w", err)
	}
	if len(vaults) != len(p.Items) {
		s.logger.Warn("vault index entries missing primary records",
			"index", indexKey,
			"indexed", len(p.Items),
			"found", len(vaults),
		)
	}
	return Page[*model.Vault]{Items: vaults, NextCursor: p.NextCursor, HasMore: p.HasMore}, nil
}

// PositionsByOwner returns the owner's positions, newest update first.
func (s *Service) PositionsByOwner(ctx context.Context, owner string, status *model.VaultStatus, cursor *int64, limit int64) (Page[*model.Position], error) {
	start := time.Now()
	defer func() {
		metrics.QueryLatency.WithLabelValues(s.network, kindPositions).Observe(time.Since(start).Seconds())
	}()
	metrics.QueryRequestsTotal.WithLabelValues(s.network, kindPositions).Inc()
	limit = s.clampLimit(limit)

	indexKey := s.keys.PositionsByOwnerIndex(owner)
	if status != nil {
		indexKey = s.keys.PositionsByOwnerStatusIndex(owner, *status)
	}

	res, err := s.st.RevRangeByScore(ctx, indexKey, cursor, limit+1)
	if err != nil {
		return Page[*model.Position]{}, fmt.Errorf("reading position index %s: %w", indexKey, err)
	}
	if !res.IndexBuilt {
		return s.fallbackPositions(ctx, owner, status, cursor, limit)
	}

	p := page(res.Members, limit, func(m store.ScoredMember) int64 { return m.Score })
	positions, err := s.st.GetPositions(ctx, memberAddrs(p.Items))
	if err != nil {
		return Page[*model.Position]{}, fmt.Errorf("hydrating positions: %w", err)
	}
	if len(positions) != len(p.Items) {
		s.logger.Warn("position index entries missing primary records",
			"index", indexKey,
			"indexed", len(p.Items),
			"found", len(positions),
		)
	}
	return Page[*model.Position]{Items: positions, NextCursor: p.NextCursor, HasMore: p.HasMore}, nil
}

// Timeline returns the activities touching a subject (vault or position
// address) or a wallet (owner or authority), newest first. Timelines have no
// legacy sets, so a scope that was never written is an empty page.
func (s *Service) Timeline(ctx context.Context, scope TimelineScope, key string, cursor *int64, limit int64) (Page[*model.Activity], error) {
	start := time.Now()
	defer func() {
		metrics.QueryLatency.WithLabelValues(s.network, kindTimeline).Observe(time.Since(start).Seconds())
	}()
	metrics.QueryRequestsTotal.WithLabelValues(s.network, kindTimeline).Inc()
	limit = s.clampLimit(limit)

	var zkey string
	switch scope {
	case TimelineSubject:
		zkey = s.keys.SubjectTimeline(key)
	case TimelineWallet:
		zkey = s.keys.WalletTimeline(key)
	default:
		return Page[*model.Activity]{}, fmt.Errorf("unknown timeline scope %q", scope)
	}

	res, err := s.st.RevRangeByScore(ctx, zkey, cursor, limit+1)
	if err != nil {
		return Page[*model.Activity]{}, fmt.Errorf("reading timeline %s: %w", zkey, err)
	}
	if !res.IndexBuilt {
		return Page[*model.Activity]{Items: []*model.Activity{}}, nil
	}

	p := page(res.Members, limit, func(m store.ScoredMember) int64 { return m.Score })
	activities, err := s.st.GetActivities(ctx, memberAddrs(p.Items))
	if err != nil {
		return Page[*model.Activity]{}, fmt.Errorf("hydrating activities: %w", err)
	}
	return Page[*model.Activity]{Items: activities, NextCursor: p.NextCursor, HasMore: p.HasMore}, nil
}

// fallbackVaults serves a scope whose ordered index is missing by scanning
// the legacy membership set, bounded by the hard cap.
func (s *Service) fallbackVaults(ctx context.Context, authority string, status *model.VaultStatus, cursor *int64, limit int64) (Page[*model.Vault], error) {
	setKey := s.keys.VaultsByAuthority(authority)
	members, err := s.guardedMembers(ctx, setKey, kindVaults)
	if err != nil {
		return Page[*model.Vault]{}, err
	}

	vaults, err := s.st.GetVaults(ctx, members)
	if err != nil {
		return Page[*model.Vault]{}, fmt.Errorf("hydrating vaults for fallback scan: %w", err)
	}

	filtered := vaults[:0]
	for _, v := range vaults {
		if status != nil && v.Status != *status {
			continue
		}
		if cursor != nil && v.UpdatedAt.Unix() >= *cursor {
			continue
		}
		filtered = append(filtered, v)
	}
	sort.Slice(filtered, func(i, j int) bool {
		ti, tj := filtered[i].UpdatedAt.Unix(), filtered[j].UpdatedAt.Unix()
		if ti != tj {
			return ti > tj
		}
		return filtered[i].Address > filtered[j].Address
	})
	return page(filtered, limit, func(v *model.Vault) int64 { return v.UpdatedAt.Unix() }), nil
}

// fallbackPositions mirrors fallbackVaults for the owner scope.
func (s *Service) fallbackPositions(ctx context.Context, owner string, status *model.VaultStatus, cursor *int64, limit int64) (Page[*model.Position], error) {
	setKey := s.keys.PositionsByOwner(owner)
	members, err := s.guardedMembers(ctx, setKey, kindPositions)
	if err != nil {
		return Page[*model.Position]{}, err
	}

	positions, err := s.st.GetPositions(ctx, members)
	if err != nil {
		return Page[*model.Position]{}, fmt.Errorf("hydrating positions for fallback scan: %w", err)
	}

	filtered := positions[:0]
	for _, p := range positions {
		if status != nil && p.Status != *status {
			continue
		}
		if cursor != nil && p.UpdatedAt.Unix() >= *cursor {
			continue
		}
		filtered = append(filtered, p)
	}
	sort.Slice(filtered, func(i, j int) bool {
		ti, tj := filtered[i].UpdatedAt.Unix(), filtered[j].UpdatedAt.Unix()
		if ti != tj {
			return ti > tj
		}
		return filtered[i].Address > filtered[j].Address
	})
	return page(filtered, limit, func(p *model.Position) int64 { return p.UpdatedAt.Unix() }), nil
}

// guardedMembers loads a legacy set after checking its cardinality against
// the hard cap and warn threshold.
func (s *Service) guardedMembers(ctx context.Context, setKey, kind string) ([]string, error) {
	metrics.QueryFallbackScans.WithLabelValues(s.network, kind).Inc()

	size, err := s.st.MemberCount(ctx, setKey)
	if err != nil {
		return nil, fmt.Errorf("sizing legacy set %s: %w", setKey, err)
	}
	if size > s.limits.FallbackMaxSize {
		metrics.QueryFallbackOversize.WithLabelValues(s.network, kind).Inc()
		s.logger.Error("fallback scan rejected, set over hard cap",
			"set", setKey,
			"size", size,
			"cap", s.limits.FallbackMaxSize,
		)
		s.sendOversizeAlert(ctx, "Fallback scan rejected", setKey, size, s.limits.FallbackMaxSize)
		return nil, fmt.Errorf("%w: %d members in %s", ErrScanLimitExceeded, size, setKey)
	}
	if size > s.limits.FallbackWarnSize {
		s.logger.Warn("fallback scan over warn threshold",
			"set", setKey,
			"size", size,
			"threshold", s.limits.FallbackWarnSize,
		)
		s.sendOversizeAlert(ctx, "Fallback scan over warn threshold", setKey, size, s.limits.FallbackWarnSize)
	}
	return s.st.Members(ctx, setKey)
}

func (s *Service) sendOversizeAlert(ctx context.Context, title, setKey string, size, bound int64) {
	err := s.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeOversizeScan,
		Network: s.network,
		Title:   title,
		Message: fmt.Sprintf("Legacy set %s has %d members (bound %d)", setKey, size, bound),
		Fields: map[string]string{
			"set":   setKey,
			"size":  strconv.FormatInt(size, 10),
			"bound": strconv.FormatInt(bound, 10),
		},
	})
	if err != nil {
		s.logger.Warn("failed to send alert", "error", err)
	}
}

func (s *Service) clampLimit(limit int64) int64 {
	if limit <= 0 {
		return s.limits.DefaultLimit
	}
	if limit > s.limits.MaxLimit {
		return s.limits.MaxLimit
	}
	return limit
}

// page cuts items to the window size; the extra limit+1 entry only signals
// that an older page exists.
func page[T any](items []T, limit int64, score func(T) int64) Page[T] {
	hasMore := int64(len(items)) > limit
	if hasMore {
		items = items[:limit]
	}
	p := Page[T]{Items: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		last := score(items[len(items)-1])
		p.NextCursor = &last
	}
	return p
}

func memberAddrs(members []store.ScoredMember) []string {
	addrs := make([]string, len(members))
	for i, m := range members {
		addrs[i] = m.Member
	}
	return addrs
}
