package model

import "time"

type ActivityType string

const (
	ActivityVaultCreated   ActivityType = "VAULT_CREATED"
	ActivityDeposit        ActivityType = "DEPOSIT"
	ActivityVaultActivated ActivityType = "VAULT_ACTIVATED"
	ActivityVaultMatured   ActivityType = "VAULT_MATURED"
	ActivityVaultCanceled  ActivityType = "VAULT_CANCELED"
	ActivityClaim          ActivityType = "CLAIM"
	ActivityVaultClosed    ActivityType = "VAULT_CLOSED"
)

func (t ActivityType) String() string {
	return string(t)
}

// Activity is one ledger entry derived from a transaction event. Identity
// is (Signature, Type, Slot); redelivered events land on the same key.
type Activity struct {
	Signature string       `json:"signature"`
	Slot      int64        `json:"slot"`
	BlockTime *time.Time   `json:"blockTime,omitempty"`
	Type      ActivityType `json:"type"`
	Vault     string       `json:"vault,omitempty"`
	Position  string       `json:"position,omitempty"`
	Authority string       `json:"authority,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	Amount    string       `json:"amount,omitempty"`
	AssetMint string       `json:"assetMint,omitempty"`
}
