// Package reconcile turns fresh chain observations into mutation plans:
// it gates stale slots, derives activity drafts from counter movement,
// and infers terminal snapshots for accounts that closed on chain.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/store"
)

// Observation is one event-touched account after fetch+decode. Exactly
// one of Vault/Position is set for decoded accounts; Absent marks an
// account the chain no longer knows.
type Observation struct {
	Address  string
	Vault    *model.Vault
	Position *model.Position
	Absent   bool
}

// Result is everything one event produces: the atomic plan, the activity
// drafts for the ledger, and counters for observability.
type Result struct {
	Plan       *store.MutationPlan
	Activities []*model.Activity

	Applied     int // subjects that passed the slot gate
	StaleSkips  int // subjects dropped by the slot gate
	AbsentSkips int // absent accounts without closure evidence

	// Closure counts split out of Applied: snapshots synthesized from
	// account deletion rather than decoded from live data.
	VaultClosures    int
	PositionClosures int
}

type Reconciler struct {
	store  store.SubjectReader
	logger *slog.Logger
}

func New(st store.SubjectReader, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		logger: logger.With("component", "reconciler"),
	}
}

// Build processes one event's observations. Vaults reconcile before
// positions so same-event vault status flips are visible to position
// settlement; absent accounts come last because closure inference reads
// both caches.
func (r *Reconciler) Build(ctx context.Context, evt *event.TransactionEvent, eventTime time.Time, observations []Observation) (*Result, error) {
	res := &Result{Plan: &store.MutationPlan{}}
	planVaults := make(map[string]*model.Vault)

	var (
		linkVault    *model.Vault
		linkVaultOld *model.Vault
		linkPos      *model.Position
		linkPosOld   *model.Position
	)

	for _, obs := range observations {
		if obs.Vault == nil {
			continue
		}
		old, err := r.store.GetVault(ctx, obs.Address)
		if err != nil {
			return nil, fmt.Errorf("load vault %s: %w", obs.Address, err)
		}
		if linkVault == nil {
			linkVault, linkVaultOld = obs.Vault, old
		}
		if old != nil && obs.Vault.Slot < old.Slot {
			r.logStale(obs.Address, obs.Vault.Slot, old.Slot)
			res.StaleSkips++
			continue
		}
		res.Plan.AddVault(obs.Vault, statusOf(old))
		planVaults[obs.Address] = obs.Vault
		res.Applied++
	}

	for _, obs := range observations {
		if obs.Position == nil {
			continue
		}
		old, err := r.store.GetPosition(ctx, obs.Address)
		if err != nil {
			return nil, fmt.Errorf("load position %s: %w", obs.Address, err)
		}
		if linkPos == nil {
			linkPos, linkPosOld = obs.Position, old
		}
		if old != nil && obs.Position.Slot < old.Slot {
			r.logStale(obs.Address, obs.Position.Slot, old.Slot)
			res.StaleSkips++
			continue
		}
		res.Plan.AddPosition(obs.Position, positionStatusOf(old))
		res.Applied++
	}

	for _, obs := range observations {
		if !obs.Absent {
			continue
		}
		closedVault, closedPos, cachedPos, err := r.reconcileAbsent(ctx, obs.Address, evt, eventTime, planVaults, res)
		if err != nil {
			return nil, err
		}
		if closedVault != nil && linkVault == nil {
			linkVault = closedVault
		}
		if closedPos != nil && linkPos == nil {
			linkPos, linkPosOld = closedPos, cachedPos
		}
	}

	acts, err := r.deriveActivities(ctx, evt, planVaults, linkVault, linkVaultOld, linkPos, linkPosOld)
	if err != nil {
		return nil, err
	}
	res.Activities = acts

	return res, nil
}

func (r *Reconciler) logStale(address string, incoming, stored int64) {
	r.logger.Debug("stale update skipped",
		"account", address, "incoming_slot", incoming, "stored_slot", stored)
}

// reconcileAbsent classifies a vanished account via the cached records
// and synthesizes a terminal snapshot when the logs corroborate closure.
// It returns whichever snapshot it planned, for activity linking.
func (r *Reconciler) reconcileAbsent(
	ctx context.Context,
	address string,
	evt *event.TransactionEvent,
	eventTime time.Time,
	planVaults map[string]*model.Vault,
	res *Result,
) (*model.Vault, *model.Position, *model.Position, error) {
	cachedVault, err := r.store.GetVault(ctx, address)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load vault %s: %w", address, err)
	}
	if cachedVault != nil {
		return r.closeVault(address, cachedVault, evt, eventTime, planVaults, res), nil, nil, nil
	}

	cachedPos, err := r.store.GetPosition(ctx, address)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load position %s: %w", address, err)
	}
	if cachedPos != nil {
		closed, err := r.closePosition(ctx, address, cachedPos, evt, eventTime, planVaults, res)
		return nil, closed, cachedPos, err
	}

	r.logger.Debug("absent account never indexed, skipping", "account", address)
	res.AbsentSkips++
	return nil, nil, nil, nil
}

func (r *Reconciler) closeVault(
	address string,
	cached *model.Vault,
	evt *event.TransactionEvent,
	eventTime time.Time,
	planVaults map[string]*model.Vault,
	res *Result,
) *model.Vault {
	if evt.Slot < cached.Slot {
		r.logStale(address, evt.Slot, cached.Slot)
		res.StaleSkips++
		return nil
	}
	if !cached.Status.CloseEligible() || !model.HasInstruction(evt.Logs, model.ActivityVaultClosed) {
		r.logger.Debug("absent vault without closure evidence, skipping",
			"account", address, "cached_status", cached.Status.String())
		res.AbsentSkips++
		return nil
	}

	closed := *cached
	closed.Status = model.StatusClosed
	closed.Slot = evt.Slot
	closed.UpdatedAt = eventTime.UTC()

	prev := cached.Status
	res.Plan.AddVault(&closed, &prev)
	planVaults[address] = &closed
	res.Applied++
	res.VaultClosures++
	return &closed
}

func (r *Reconciler) closePosition(
	ctx context.Context,
	address string,
	cached *model.Position,
	evt *event.TransactionEvent,
	eventTime time.Time,
	planVaults map[string]*model.Vault,
	res *Result,
) (*model.Position, error) {
	if evt.Slot < cached.Slot {
		r.logStale(address, evt.Slot, cached.Slot)
		res.StaleSkips++
		return nil, nil
	}
	funded := cached.Deposited != "" && cached.Deposited != "0"
	if cached.Status.Terminal() || !funded || !model.HasInstruction(evt.Logs, model.ActivityClaim) {
		r.logger.Debug("absent position without claim evidence, skipping",
			"account", address, "cached_status", cached.Status.String())
		res.AbsentSkips++
		return nil, nil
	}

	parent, err := r.lookupVault(ctx, cached.Vault, planVaults)
	if err != nil {
		return nil, err
	}

	closed := *cached
	closed.Status = model.StatusClosed
	closed.Slot = evt.Slot
	closed.UpdatedAt = eventTime.UTC()
	if parent != nil {
		closed.Claimed = Settle(cached.Deposited, parent.Status, parent.PayoutNumerator, parent.PayoutDenominator)
	} else {
		r.logger.Warn("settling position without its vault, refunding deposit",
			"position", address, "vault", cached.Vault)
		closed.Claimed = cached.Deposited
	}

	prev := cached.Status
	res.Plan.AddPosition(&closed, &prev)
	res.Applied++
	res.PositionClosures++
	return &closed, nil
}

// lookupVault prefers this event's pending write over the stored record.
func (r *Reconciler) lookupVault(ctx context.Context, address string, planVaults map[string]*model.Vault) (*model.Vault, error) {
	if v, ok := planVaults[address]; ok {
		return v, nil
	}
	v, err := r.store.GetVault(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load vault %s: %w", address, err)
	}
	return v, nil
}

// deriveActivities builds one draft per instruction named in the logs.
// Links come from the observed subjects even when their writes were
// gated; amounts come from counter movement against the pre-mutation
// records, so a gated (negative) movement simply yields no amount.
// Only an event with no decoded subject at all falls back to the
// literal amount in the program logs.
func (r *Reconciler) deriveActivities(
	ctx context.Context,
	evt *event.TransactionEvent,
	planVaults map[string]*model.Vault,
	vaultNew, vaultOld *model.Vault,
	posNew *model.Position,
	posOld *model.Position,
) ([]*model.Activity, error) {
	types := model.ClassifyInstructions(evt.Logs)
	if len(types) == 0 {
		return nil, nil
	}

	if vaultNew == nil && posNew != nil {
		v, err := r.lookupVault(ctx, posNew.Vault, planVaults)
		if err != nil {
			return nil, err
		}
		vaultNew = v
	}

	// With no decoded subject there are no counters to diff; the literal
	// the program logged is the only amount source left.
	var logAmount string
	if vaultNew == nil && posNew == nil {
		logAmount = model.AmountFromLogs(evt.Logs)
	}

	var blockTime *time.Time
	if ts, ok := evt.BlockTimestamp(); ok {
		blockTime = &ts
	}

	acts := make([]*model.Activity, 0, len(types))
	for _, t := range types {
		a := &model.Activity{
			Signature: evt.Signature,
			Slot:      evt.Slot,
			BlockTime: blockTime,
			Type:      t,
		}
		if vaultNew != nil {
			a.Vault = vaultNew.Address
			a.Authority = vaultNew.Authority
			a.AssetMint = vaultNew.AssetMint
		}
		if posNew != nil {
			a.Position = posNew.Address
			a.Owner = posNew.Owner
			if a.Vault == "" {
				a.Vault = posNew.Vault
			}
		}
		switch t {
		case model.ActivityDeposit:
			a.Amount = pickMovement(
				posNew, posOld, func(p *model.Position) string { return p.Deposited },
				vaultNew, vaultOld, func(v *model.Vault) string { return v.Deposited },
			)
			if a.Amount == "" {
				a.Amount = logAmount
			}
		case model.ActivityClaim:
			a.Amount = pickMovement(
				posNew, posOld, func(p *model.Position) string { return p.Claimed },
				vaultNew, vaultOld, func(v *model.Vault) string { return v.Claimed },
			)
			if a.Amount == "" {
				a.Amount = logAmount
			}
		}
		acts = append(acts, a)
	}
	return acts, nil
}

// pickMovement prefers the position's counter movement over the vault's.
func pickMovement(
	posNew, posOld *model.Position, posCounter func(*model.Position) string,
	vaultNew, vaultOld *model.Vault, vaultCounter func(*model.Vault) string,
) string {
	if posNew != nil {
		prev := ""
		if posOld != nil {
			prev = posCounter(posOld)
		}
		if d, ok := amountDelta(posCounter(posNew), prev); ok {
			return d
		}
		return ""
	}
	if vaultNew != nil {
		prev := ""
		if vaultOld != nil {
			prev = vaultCounter(vaultOld)
		}
		if d, ok := amountDelta(vaultCounter(vaultNew), prev); ok {
			return d
		}
	}
	return ""
}

func statusOf(v *model.Vault) *model.VaultStatus {
	if v == nil {
		return nil
	}
	s := v.Status
	return &s
}

func positionStatusOf(p *model.Position) *model.VaultStatus {
	if p == nil {
		return nil
	}
	s := p.Status
	return &s
}
