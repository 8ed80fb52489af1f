package model

import "strings"

// instructionLogPrefix is what the Anchor runtime emits ahead of each
// top-level instruction name.
const instructionLogPrefix = "Program log: Instruction: "

// activityByInstruction maps program instruction names to ledger activity
// types. Exact match after the log prefix; substring matching would
// confuse CloseVault-style pairs.
var activityByInstruction = map[string]ActivityType{
	"InitializeVault": ActivityVaultCreated,
	"Deposit":         ActivityDeposit,
	"ActivateVault":   ActivityVaultActivated,
	"MatureVault":     ActivityVaultMatured,
	"CancelVault":     ActivityVaultCanceled,
	"Claim":           ActivityClaim,
	"CloseVault":      ActivityVaultClosed,
}

// ClassifyInstructions extracts the ordered, de-duplicated activity types
// named by a transaction's log messages. Unrecognized instructions yield
// nothing.
func ClassifyInstructions(logs []string) []ActivityType {
	var (
		types []ActivityType
		seen  map[ActivityType]struct{}
	)
	for _, line := range logs {
		name, ok := strings.CutPrefix(line, instructionLogPrefix)
		if !ok {
			continue
		}
		t, ok := activityByInstruction[strings.TrimSpace(name)]
		if !ok {
			continue
		}
		if seen == nil {
			seen = make(map[ActivityType]struct{}, 2)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	return types
}

// HasInstruction reports whether the logs name the given activity type.
func HasInstruction(logs []string, t ActivityType) bool {
	for _, got := range ClassifyInstructions(logs) {
		if got == t {
			return true
		}
	}
	return false
}

// amountLogPrefix precedes the raw token amount a value-moving
// instruction logs.
const amountLogPrefix = "Program log: amount: "

// AmountFromLogs returns the first well-formed literal amount named in
// the logs, or "" when none is. Movement derivation prefers decoded
// account counters; this is the remaining source when an event touched
// no decodable account.
func AmountFromLogs(logs []string) string {
	for _, line := range logs {
		raw, ok := strings.CutPrefix(line, amountLogPrefix)
		if !ok {
			continue
		}
		if v := canonicalAmount(strings.TrimSpace(raw)); v != "" {
			return v
		}
	}
	return ""
}

// canonicalAmount validates a decimal literal and strips leading zeros.
// All-zero literals trim to "", the same shape as a clamped movement.
func canonicalAmount(s string) string {
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return strings.TrimLeft(s, "0")
}
