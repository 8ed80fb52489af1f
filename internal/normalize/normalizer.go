// Package normalize converts decoded account layouts into domain
// records: u64 lamports become decimal strings, status tags resolve
// against the closed set, and derived addresses are attached.
package normalize

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/schema"
)

type Normalizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{
		logger: logger.With("component", "normalizer"),
	}
}

// Vault builds the read-model record for a decoded vault account. slot
// and updatedAt come from the triggering event, not the account bytes.
func (n *Normalizer) Vault(address string, acc *schema.VaultAccount, slot int64, updatedAt time.Time) *model.Vault {
	return &model.Vault{
		Address:           address,
		Authority:         acc.Authority.String(),
		AssetMint:         acc.AssetMint.String(),
		PayoutATA:         n.payoutATA(address, acc.AssetMint),
		Capacity:          formatAmount(acc.Capacity),
		Deposited:         formatAmount(acc.Deposited),
		Claimed:           formatAmount(acc.Claimed),
		PayoutNumerator:   acc.PayoutNumerator,
		PayoutDenominator: acc.PayoutDenominator,
		Status:            n.status(address, acc.Status),
		Slot:              slot,
		CreatedAt:         time.Unix(acc.CreatedAt, 0).UTC(),
		UpdatedAt:         updatedAt.UTC(),
	}
}

// Position builds the read-model record for a decoded position account.
func (n *Normalizer) Position(address string, acc *schema.PositionAccount, slot int64, updatedAt time.Time) *model.Position {
	return &model.Position{
		Address:   address,
		Vault:     acc.Vault.String(),
		Owner:     acc.Owner.String(),
		Deposited: formatAmount(acc.Deposited),
		Claimed:   formatAmount(acc.Claimed),
		Status:    n.status(address, acc.Status),
		Slot:      slot,
		CreatedAt: time.Unix(acc.CreatedAt, 0).UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
}

// status resolves the on-chain tag, degrading to Funding on unknown tags
// so a program upgrade never stalls ingestion.
func (n *Normalizer) status(address string, tag uint8) model.VaultStatus {
	s, ok := model.StatusFromTag(tag)
	if !ok {
		n.logger.Warn("unmapped status tag, defaulting",
			"account", address,
			"tag", tag,
			"default", s.String())
	}
	return s
}

// payoutATA derives the vault's payout treasury: the associated token
// account of the vault PDA for the asset mint.
func (n *Normalizer) payoutATA(vaultAddress string, mint solana.PublicKey) string {
	owner, err := solana.PublicKeyFromBase58(vaultAddress)
	if err != nil {
		n.logger.Warn("cannot derive payout ata", "account", vaultAddress, "error", err)
		return ""
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		n.logger.Warn("cannot derive payout ata", "account", vaultAddress, "mint", mint.String(), "error", err)
		return ""
	}
	return ata.String()
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}
