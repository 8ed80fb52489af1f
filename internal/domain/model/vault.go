package model

import "time"

// Vault is the indexed read model of a vault program account. Lamport
// amounts are carried as decimal strings; Slot is the version gate.
type Vault struct {
	Address           string      `json:"address"`
	Authority         string      `json:"authority"`
	AssetMint         string      `json:"assetMint"`
	PayoutATA         string      `json:"payoutAta"`
	Capacity          string      `json:"capacity"`
	Deposited         string      `json:"deposited"`
	Claimed           string      `json:"claimed"`
	PayoutNumerator   uint64      `json:"payoutNumerator"`
	PayoutDenominator uint64      `json:"payoutDenominator"`
	Status            VaultStatus `json:"status"`
	Slot              int64       `json:"slot"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// HasPayoutRatio reports whether settlement can use the configured ratio
// instead of the deposit-refund fallback.
func (v *Vault) HasPayoutRatio() bool {
	return v.PayoutNumerator > 0 && v.PayoutDenominator > 0
}
