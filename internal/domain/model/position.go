package model

import "time"

// Position is one depositor's stake in a vault. Statuses reuse the vault
// lifecycle set; a position is Closed once its claim settles.
type Position struct {
	Address   string      `json:"address"`
	Vault     string      `json:"vault"`
	Owner     string      `json:"owner"`
	Deposited string      `json:"deposited"`
	Claimed   string      `json:"claimed"`
	Status    VaultStatus `json:"status"`
	Slot      int64       `json:"slot"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
