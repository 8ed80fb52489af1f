// Package schema decodes vault program accounts. Layouts are Anchor
// style: an 8-byte discriminator followed by Borsh-encoded fields.
package schema

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Discriminators from the vault program IDL.
var (
	vaultDiscriminator    = [8]byte{0xd3, 0x08, 0xe8, 0x2b, 0x02, 0x98, 0x75, 0x77}
	positionDiscriminator = [8]byte{0xaa, 0xbc, 0x8f, 0xe4, 0x7a, 0x40, 0xf7, 0xd0}
)

type AccountKind string

const (
	KindVault    AccountKind = "vault"
	KindPosition AccountKind = "position"
)

// VaultAccount mirrors the on-chain vault layout.
type VaultAccount struct {
	Authority         solana.PublicKey
	AssetMint         solana.PublicKey
	Capacity          uint64
	Deposited         uint64
	Claimed           uint64
	PayoutNumerator   uint64
	PayoutDenominator uint64
	Status            uint8
	Bump              uint8
	CreatedAt         int64
}

// PositionAccount mirrors the on-chain position layout.
type PositionAccount struct {
	Vault     solana.PublicKey
	Owner     solana.PublicKey
	Deposited uint64
	Claimed   uint64
	Status    uint8
	Bump      uint8
	CreatedAt int64
}

// Decoded is the result of a successful probe: exactly one of Vault or
// Position is set, matching Kind.
type Decoded struct {
	Kind     AccountKind
	Vault    *VaultAccount
	Position *PositionAccount
}

// DecodeError marks account data that matches no known layout or fails
// to parse under the matched one. Ingestion skips such accounts.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode account: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode account: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// layouts is the probe order: vault before position. Order matters only
// for documentation; discriminators are disjoint.
var layouts = []struct {
	kind          AccountKind
	discriminator [8]byte
}{
	{KindVault, vaultDiscriminator},
	{KindPosition, positionDiscriminator},
}

// Decode probes the discriminator and Borsh-decodes the remainder. It is
// a pure function over the raw account bytes.
func Decode(data []byte) (*Decoded, error) {
	if len(data) < 8 {
		return nil, &DecodeError{Reason: fmt.Sprintf("account data too short: %d bytes", len(data))}
	}
	for _, l := range layouts {
		if !bytes.Equal(data[:8], l.discriminator[:]) {
			continue
		}
		dec := bin.NewBorshDecoder(data[8:])
		switch l.kind {
		case KindVault:
			var v VaultAccount
			if err := dec.Decode(&v); err != nil {
				return nil, &DecodeError{Reason: "vault layout", Err: err}
			}
			return &Decoded{Kind: KindVault, Vault: &v}, nil
		case KindPosition:
			var p PositionAccount
			if err := dec.Decode(&p); err != nil {
				return nil, &DecodeError{Reason: "position layout", Err: err}
			}
			return &Decoded{Kind: KindPosition, Position: &p}, nil
		}
	}
	return nil, &DecodeError{Reason: fmt.Sprintf("unknown discriminator %x", data[:8])}
}

// EncodeVault serializes a vault account with its discriminator. The
// indexer never writes accounts; this exists for fixtures and tooling.
func EncodeVault(v *VaultAccount) ([]byte, error) {
	return encode(vaultDiscriminator, v)
}

// EncodePosition serializes a position account with its discriminator.
func EncodePosition(p *PositionAccount) ([]byte, error) {
	return encode(positionDiscriminator, p)
}

func encode(discriminator [8]byte, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return buf.Bytes(), nil
}
