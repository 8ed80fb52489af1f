package model

// VaultStatus is the closed lifecycle set shared by vaults and positions.
// Funding → Active → { Matured, Canceled } → Closed.
type VaultStatus string

const (
	StatusFunding  VaultStatus = "FUNDING"
	StatusActive   VaultStatus = "ACTIVE"
	StatusMatured  VaultStatus = "MATURED"
	StatusCanceled VaultStatus = "CANCELED"
	StatusClosed   VaultStatus = "CLOSED"
)

func (s VaultStatus) String() string {
	return string(s)
}

// statusByTag maps the on-chain u8 status tag to its domain value. The
// array is indexed by tag so adding a program variant without extending
// the table is an immediate gap here, not a silent string.
var statusByTag = [...]VaultStatus{
	0: StatusFunding,
	1: StatusActive,
	2: StatusMatured,
	3: StatusCanceled,
	4: StatusClosed,
}

// StatusFromTag resolves an on-chain status tag. ok=false means the tag
// is outside the known set; callers degrade to StatusFunding and log.
func StatusFromTag(tag uint8) (VaultStatus, bool) {
	if int(tag) >= len(statusByTag) {
		return StatusFunding, false
	}
	return statusByTag[tag], true
}

// ParseStatus resolves a query-parameter status value, case-sensitive on
// the canonical uppercase form.
func ParseStatus(s string) (VaultStatus, bool) {
	switch VaultStatus(s) {
	case StatusFunding, StatusActive, StatusMatured, StatusCanceled, StatusClosed:
		return VaultStatus(s), true
	}
	return "", false
}

// Terminal reports whether no further on-chain transitions exist.
func (s VaultStatus) Terminal() bool {
	return s == StatusClosed
}

// CloseEligible reports whether account deletion from this status is a
// legitimate closure rather than missing data.
func (s VaultStatus) CloseEligible() bool {
	return s == StatusMatured || s == StatusCanceled
}
