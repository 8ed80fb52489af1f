package event

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// TransactionEvent is one webhook delivery item: a confirmed transaction
// that touched the vault program, with the accounts it referenced and its
// log messages. Delivery is at-least-once and unordered.
type TransactionEvent struct {
	Signature string   `json:"signature"`
	Slot      int64    `json:"slot"`
	BlockTime *int64   `json:"blockTime,omitempty"`
	Accounts  []string `json:"accounts"`
	Logs      []string `json:"logs,omitempty"`
}

// ValidationError marks a malformed event. Handlers map it to a 400 and
// apply nothing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// Validate checks structural soundness. It does not dedupe accounts;
// downstream fetching tolerates repeats.
func (e *TransactionEvent) Validate() error {
	if e.Signature == "" {
		return &ValidationError{Field: "signature", Reason: "empty"}
	}
	if e.Slot <= 0 {
		return &ValidationError{Field: "slot", Reason: fmt.Sprintf("must be positive, got %d", e.Slot)}
	}
	if len(e.Accounts) == 0 {
		return &ValidationError{Field: "accounts", Reason: "at least one touched account required"}
	}
	for i, addr := range e.Accounts {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d]", i), Reason: fmt.Sprintf("not a valid pubkey: %q", addr)}
		}
	}
	if e.BlockTime != nil && *e.BlockTime < 0 {
		return &ValidationError{Field: "blockTime", Reason: "negative"}
	}
	return nil
}

// BlockTimestamp returns the block time when the event carries one.
func (e *TransactionEvent) BlockTimestamp() (time.Time, bool) {
	if e.BlockTime == nil || *e.BlockTime == 0 {
		return time.Time{}, false
	}
	return time.Unix(*e.BlockTime, 0).UTC(), true
}
