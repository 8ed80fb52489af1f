package store

import (
	"fmt"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
)

// Keys builds every Redis key the indexer owns under one prefix, so two
// deployments can share a cluster without colliding.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "vitalfi"
	}
	return Keys{prefix: prefix}
}

// Primary records.

func (k Keys) Vault(address string) string {
	return fmt.Sprintf("%s:vault:%s", k.prefix, address)
}

func (k Keys) Position(address string) string {
	return fmt.Sprintf("%s:position:%s", k.prefix, address)
}

func (k Keys) Activity(signature string, t model.ActivityType, slot int64) string {
	return fmt.Sprintf("%s:activity:%s:%s:%d", k.prefix, signature, t, slot)
}

// Legacy membership sets, one per scope. Kept as the fallback surface
// while ordered indices backfill.

func (k Keys) VaultsByAuthority(authority string) string {
	return fmt.Sprintf("%s:vaults:authority:%s", k.prefix, authority)
}

func (k Keys) PositionsByOwner(owner string) string {
	return fmt.Sprintf("%s:positions:owner:%s", k.prefix, owner)
}

// Ordered indices, scored by update time.

func (k Keys) VaultsByAuthorityIndex(authority string) string {
	return k.VaultsByAuthority(authority) + ":byupdated"
}

func (k Keys) VaultsByAuthorityStatusIndex(authority string, status model.VaultStatus) string {
	return fmt.Sprintf("%s:status:%s", k.VaultsByAuthority(authority), status)
}

func (k Keys) PositionsByOwnerIndex(owner string) string {
	return k.PositionsByOwner(owner) + ":byupdated"
}

func (k Keys) PositionsByOwnerStatusIndex(owner string, status model.VaultStatus) string {
	return fmt.Sprintf("%s:status:%s", k.PositionsByOwner(owner), status)
}

// Activity timelines, scored by block time with slot fallback.

func (k Keys) SubjectTimeline(address string) string {
	return fmt.Sprintf("%s:timeline:subject:%s", k.prefix, address)
}

func (k Keys) WalletTimeline(wallet string) string {
	return fmt.Sprintf("%s:timeline:wallet:%s", k.prefix, wallet)
}
