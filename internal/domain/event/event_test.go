package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVault = "9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E"
	testOwner = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func validEvent() TransactionEvent {
	bt := int64(1700000100)
	return TransactionEvent{
		Signature: "5wHu1qwD4kKKyg6iYWuuoeRFyL9XhkmWxwdBk8bUPGGicNhnEphDBwwWdGu2xEEYhTsAqNEkNkCVROq1zdCgGcwk",
		Slot:      250_000_000,
		BlockTime: &bt,
		Accounts:  []string{testVault, testOwner},
		Logs:      []string{"Program log: Instruction: Deposit"},
	}
}

func TestTransactionEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*TransactionEvent)
		wantErr string
	}{
		{"valid", func(e *TransactionEvent) {}, ""},
		{"empty signature", func(e *TransactionEvent) { e.Signature = "" }, "signature"},
		{"zero slot", func(e *TransactionEvent) { e.Slot = 0 }, "slot"},
		{"negative slot", func(e *TransactionEvent) { e.Slot = -4 }, "slot"},
		{"no accounts", func(e *TransactionEvent) { e.Accounts = nil }, "accounts"},
		{"bad pubkey", func(e *TransactionEvent) { e.Accounts = []string{"not-base58!"} }, "accounts[0]"},
		{"negative block time", func(e *TransactionEvent) { bt := int64(-1); e.BlockTime = &bt }, "blockTime"},
		{"nil block time ok", func(e *TransactionEvent) { e.BlockTime = nil }, ""},
		{"no logs ok", func(e *TransactionEvent) { e.Logs = nil }, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			err := e.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.True(t, strings.HasPrefix(verr.Field, tc.wantErr), "field %q should start with %q", verr.Field, tc.wantErr)
		})
	}
}

func TestBlockTimestamp(t *testing.T) {
	t.Parallel()

	e := validEvent()
	ts, ok := e.BlockTimestamp()
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), ts)

	e.BlockTime = nil
	_, ok = e.BlockTimestamp()
	assert.False(t, ok)

	zero := int64(0)
	e.BlockTime = &zero
	_, ok = e.BlockTimestamp()
	assert.False(t, ok)
}
