// Package redisstore implements the store interfaces on a single Redis
// deployment: JSON blobs for primary records, SETs for legacy
// membership, ZSETs for the ordered indices and timelines.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/store"
)

type Store struct {
	client *redis.Client
	keys   store.Keys
	logger *slog.Logger
}

// New connects, pings, and returns a ready store.
func New(url, keyPrefix string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, keyPrefix, logger), nil
}

// NewWithClient wraps an existing client. Tests use this with miniredis.
func NewWithClient(client *redis.Client, keyPrefix string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		keys:   store.NewKeys(keyPrefix),
		logger: logger.With("component", "redisstore"),
	}
}

func (s *Store) Keys() store.Keys {
	return s.keys
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ApplyPlan queues every subject write into one MULTI/EXEC so readers
// never observe a record without its index entries or a subject parked
// in two status indices.
func (s *Store) ApplyPlan(ctx context.Context, plan *store.MutationPlan) error {
	if plan.Empty() {
		return nil
	}

	pipe := s.client.TxPipeline()
	for i := range plan.Subjects {
		m := &plan.Subjects[i]
		switch {
		case m.Vault != nil:
			if err := s.queueVault(ctx, pipe, m.Vault, m.PrevStatus); err != nil {
				return err
			}
		case m.Position != nil:
			if err := s.queuePosition(ctx, pipe, m.Position, m.PrevStatus); err != nil {
				return err
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply mutation plan: %w", err)
	}
	return nil
}

func (s *Store) queueVault(ctx context.Context, pipe redis.Pipeliner, v *model.Vault, prev *model.VaultStatus) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vault %s: %w", v.Address, err)
	}

	score := float64(v.UpdatedAt.Unix())
	pipe.Set(ctx, s.keys.Vault(v.Address), blob, 0)
	pipe.SAdd(ctx, s.keys.VaultsByAuthority(v.Authority), v.Address)
	pipe.ZAdd(ctx, s.keys.VaultsByAuthorityIndex(v.Authority), redis.Z{Score: score, Member: v.Address})
	if prev != nil && *prev != v.Status {
		pipe.ZRem(ctx, s.keys.VaultsByAuthorityStatusIndex(v.Authority, *prev), v.Address)
	}
	pipe.ZAdd(ctx, s.keys.VaultsByAuthorityStatusIndex(v.Authority, v.Status), redis.Z{Score: score, Member: v.Address})
	return nil
}

func (s *Store) queuePosition(ctx context.Context, pipe redis.Pipeliner, p *model.Position, prev *model.VaultStatus) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.Address, err)
	}

	score := float64(p.UpdatedAt.Unix())
	pipe.Set(ctx, s.keys.Position(p.Address), blob, 0)
	pipe.SAdd(ctx, s.keys.PositionsByOwner(p.Owner), p.Address)
	pipe.ZAdd(ctx, s.keys.PositionsByOwnerIndex(p.Owner), redis.Z{Score: score, Member: p.Address})
	if prev != nil && *prev != p.Status {
		pipe.ZRem(ctx, s.keys.PositionsByOwnerStatusIndex(p.Owner, *prev), p.Address)
	}
	pipe.ZAdd(ctx, s.keys.PositionsByOwnerStatusIndex(p.Owner, p.Status), redis.Z{Score: score, Member: p.Address})
	return nil
}

func (s *Store) GetVault(ctx context.Context, address string) (*model.Vault, error) {
	var v model.Vault
	ok, err := s.getJSON(ctx, s.keys.Vault(address), &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetPosition(ctx context.Context, address string) (*model.Position, error) {
	var p model.Position
	ok, err := s.getJSON(ctx, s.keys.Position(address), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Store) getJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// GetVaults hydrates records by address, silently dropping missing ones;
// index entries can briefly outlive a record during redeploys.
func (s *Store) GetVaults(ctx context.Context, addresses []string) ([]*model.Vault, error) {
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = s.keys.Vault(a)
	}
	out := make([]*model.Vault, 0, len(addresses))
	err := s.mgetJSON(ctx, keys, func(raw string) error {
		var v model.Vault
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return err
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

func (s *Store) GetPositions(ctx context.Context, addresses []string) ([]*model.Position, error) {
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = s.keys.Position(a)
	}
	out := make([]*model.Position, 0, len(addresses))
	err := s.mgetJSON(ctx, keys, func(raw string) error {
		var p model.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

func (s *Store) GetActivities(ctx context.Context, keys []string) ([]*model.Activity, error) {
	out := make([]*model.Activity, 0, len(keys))
	err := s.mgetJSON(ctx, keys, func(raw string) error {
		var a model.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (s *Store) mgetJSON(ctx context.Context, keys []string, each func(raw string) error) error {
	if len(keys) == 0 {
		return nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("mget %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // missing key
		}
		if err := each(raw); err != nil {
			return fmt.Errorf("unmarshal %s: %w", keys[i], err)
		}
	}
	return nil
}

func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

func (s *Store) MemberCount(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return n, nil
}

// RevRangeByScore pages an ordered index newest-first. The cursor is an
// exclusive upper bound so a page never repeats its predecessor's last
// entry. EXISTS rides the same pipeline: absence is reported as
// IndexBuilt=false rather than an empty page, so callers can fall back.
func (s *Store) RevRangeByScore(ctx context.Context, key string, cursor *int64, limit int64) (store.RangeResult, error) {
	max := "+inf"
	if cursor != nil {
		max = fmt.Sprintf("(%d", *cursor)
	}

	pipe := s.client.TxPipeline()
	existsCmd := pipe.Exists(ctx, key)
	rangeCmd := pipe.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    max,
		Offset: 0,
		Count:  limit,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return store.RangeResult{}, fmt.Errorf("zrevrangebyscore %s: %w", key, err)
	}

	res := store.RangeResult{IndexBuilt: existsCmd.Val() > 0}
	for _, z := range rangeCmd.Val() {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		res.Members = append(res.Members, store.ScoredMember{Member: member, Score: int64(z.Score)})
	}
	return res, nil
}

// CreateActivity writes the ledger entry only if its key is unused.
// ttl <= 0 keeps the entry forever.
func (s *Store) CreateActivity(ctx context.Context, key string, a *model.Activity, ttl time.Duration) (bool, error) {
	blob, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("marshal activity %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	created, err := s.client.SetNX(ctx, key, blob, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return created, nil
}

func (s *Store) AddToTimelines(ctx context.Context, member string, score int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("timeline zadd: %w", err)
	}
	return nil
}
