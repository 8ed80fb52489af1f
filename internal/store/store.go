// Package store defines the persistence boundary of the indexer: typed
// reads, atomic mutation plans, and the ordered/legacy index primitives
// the query layer is built on.
package store

import (
	"context"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
)

// ScoredMember is one ordered-index entry, highest scores first.
type ScoredMember struct {
	Member string
	Score  int64
}

// RangeResult carries an ordered-index page. IndexBuilt is an explicit
// signal: a missing index means the caller should take the fallback
// path, it is never an error.
type RangeResult struct {
	Members    []ScoredMember
	IndexBuilt bool
}

// SubjectReader serves primary-record reads. Absent records come back as
// (nil, nil).
type SubjectReader interface {
	GetVault(ctx context.Context, address string) (*model.Vault, error)
	GetPosition(ctx context.Context, address string) (*model.Position, error)
	GetVaults(ctx context.Context, addresses []string) ([]*model.Vault, error)
	GetPositions(ctx context.Context, addresses []string) ([]*model.Position, error)
}

// SubjectWriter applies mutation plans. A plan is all-or-nothing: a
// subject is never observable half-moved between status indices.
type SubjectWriter interface {
	ApplyPlan(ctx context.Context, plan *MutationPlan) error
}

// IndexReader serves the query layer: ordered ranges plus the legacy
// membership sets used by the fallback scan.
type IndexReader interface {
	Members(ctx context.Context, key string) ([]string, error)
	MemberCount(ctx context.Context, key string) (int64, error)
	RevRangeByScore(ctx context.Context, key string, cursor *int64, limit int64) (RangeResult, error)
}

// ActivityStore persists ledger entries. CreateActivity reports whether
// the key was newly created; false means an idempotent replay.
type ActivityStore interface {
	CreateActivity(ctx context.Context, key string, a *model.Activity, ttl time.Duration) (bool, error)
	AddToTimelines(ctx context.Context, member string, score int64, keys ...string) error
	GetActivities(ctx context.Context, keys []string) ([]*model.Activity, error)
}

// Store is the full persistence surface backed by one Redis deployment.
type Store interface {
	SubjectReader
	SubjectWriter
	IndexReader
	ActivityStore

	Ping(ctx context.Context) error
	Close() error
}
