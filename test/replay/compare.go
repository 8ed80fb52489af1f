package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/chainstate"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/normalize"
	"github.com/credit-markets/vitalfi-backend/internal/schema"
)

// DriftResult buckets every checked address. A deleted account whose
// indexed record reached CLOSED is convergence, not drift; only the
// Unindexed, Dangling, and Divergent buckets count against the run.
type DriftResult struct {
	Matching  []string     `json:"matching"`
	Unindexed []string     `json:"unindexed"` // live on chain, absent from the read model
	Dangling  []string     `json:"dangling"`  // live in the read model, deleted on chain without closure
	Unknown   []string     `json:"unknown"`   // absent on both sides
	Divergent []FieldDrift `json:"divergent"` // indexed and on-chain values disagree
}

// FieldDrift records a field-level mismatch between the chain and the
// read model.
type FieldDrift struct {
	Address      string `json:"address"`
	Field        string `json:"field"`
	ChainValue   string `json:"chain_value"`
	IndexedValue string `json:"indexed_value"`
}

// HasDrift returns true if any unindexed, dangling, or divergent
// subjects were found.
func (r *DriftResult) HasDrift() bool {
	return len(r.Unindexed) > 0 || len(r.Dangling) > 0 || len(r.Divergent) > 0
}

// compareVaults folds one verdict per vault address into res. The chain
// side runs through the same decode and normalize path live ingestion
// uses, so a clean run proves the stored mapping, not just raw bytes.
func compareVaults(
	norm *normalize.Normalizer,
	programID string,
	addrs []string,
	cached map[string]*model.Vault,
	accounts map[string]chainstate.Account,
	res *DriftResult,
) {
	for _, addr := range addrs {
		c := cached[addr]
		acc := accounts[addr]

		switch {
		case !acc.Exists && c == nil:
			res.Unknown = append(res.Unknown, addr)
		case !acc.Exists:
			if c.Status == model.StatusClosed {
				res.Matching = append(res.Matching, addr)
			} else {
				res.Dangling = append(res.Dangling, addr)
			}
		case c == nil:
			res.Unindexed = append(res.Unindexed, addr)
		default:
			dec, ok := decodeProgramAccount(addr, acc, programID, schema.KindVault, res)
			if !ok {
				continue
			}
			// Slot and UpdatedAt are event-sourced, not chain state;
			// carrying the cached values over excludes them from the diff.
			expected := norm.Vault(addr, dec.Vault, c.Slot, c.UpdatedAt)
			diffs := diffVaults(addr, expected, c)
			if len(diffs) == 0 {
				res.Matching = append(res.Matching, addr)
			} else {
				res.Divergent = append(res.Divergent, diffs...)
			}
		}
	}
}

// comparePositions is the position-side counterpart of compareVaults.
func comparePositions(
	norm *normalize.Normalizer,
	programID string,
	addrs []string,
	cached map[string]*model.Position,
	accounts map[string]chainstate.Account,
	res *DriftResult,
) {
	for _, addr := range addrs {
		c := cached[addr]
		acc := accounts[addr]

		switch {
		case !acc.Exists && c == nil:
			res.Unknown = append(res.Unknown, addr)
		case !acc.Exists:
			if c.Status == model.StatusClosed {
				res.Matching = append(res.Matching, addr)
			} else {
				res.Dangling = append(res.Dangling, addr)
			}
		case c == nil:
			res.Unindexed = append(res.Unindexed, addr)
		default:
			dec, ok := decodeProgramAccount(addr, acc, programID, schema.KindPosition, res)
			if !ok {
				continue
			}
			expected := norm.Position(addr, dec.Position, c.Slot, c.UpdatedAt)
			diffs := diffPositions(addr, expected, c)
			if len(diffs) == 0 {
				res.Matching = append(res.Matching, addr)
			} else {
				res.Divergent = append(res.Divergent, diffs...)
			}
		}
	}
}

// decodeProgramAccount verifies ownership and layout, recording a
// divergence when either fails.
func decodeProgramAccount(addr string, acc chainstate.Account, programID string, want schema.AccountKind, res *DriftResult) (*schema.Decoded, bool) {
	if acc.Owner != programID {
		res.Divergent = append(res.Divergent, FieldDrift{
			Address: addr, Field: "owner", ChainValue: acc.Owner, IndexedValue: programID,
		})
		return nil, false
	}
	dec, err := schema.Decode(acc.Data)
	if err != nil {
		res.Divergent = append(res.Divergent, FieldDrift{
			Address: addr, Field: "layout", ChainValue: err.Error(), IndexedValue: string(want),
		})
		return nil, false
	}
	if dec.Kind != want {
		res.Divergent = append(res.Divergent, FieldDrift{
			Address: addr, Field: "layout", ChainValue: string(dec.Kind), IndexedValue: string(want),
		})
		return nil, false
	}
	return dec, true
}

func diffVaults(addr string, chain, indexed *model.Vault) []FieldDrift {
	var diffs []FieldDrift
	check := func(field, chainVal, indexedVal string) {
		if chainVal != indexedVal {
			diffs = append(diffs, FieldDrift{Address: addr, Field: field, ChainValue: chainVal, IndexedValue: indexedVal})
		}
	}
	check("authority", chain.Authority, indexed.Authority)
	check("asset_mint", chain.AssetMint, indexed.AssetMint)
	check("payout_ata", chain.PayoutATA, indexed.PayoutATA)
	check("capacity", chain.Capacity, indexed.Capacity)
	check("deposited", chain.Deposited, indexed.Deposited)
	check("claimed", chain.Claimed, indexed.Claimed)
	check("payout_numerator", strconv.FormatUint(chain.PayoutNumerator, 10), strconv.FormatUint(indexed.PayoutNumerator, 10))
	check("payout_denominator", strconv.FormatUint(chain.PayoutDenominator, 10), strconv.FormatUint(indexed.PayoutDenominator, 10))
	check("status", chain.Status.String(), indexed.Status.String())
	check("created_at", formatTime(chain.CreatedAt), formatTime(indexed.CreatedAt))
	return diffs
}

func diffPositions(addr string, chain, indexed *model.Position) []FieldDrift {
	var diffs []FieldDrift
	check := func(field, chainVal, indexedVal string) {
		if chainVal != indexedVal {
			diffs = append(diffs, FieldDrift{Address: addr, Field: field, ChainValue: chainVal, IndexedValue: indexedVal})
		}
	}
	check("vault", chain.Vault, indexed.Vault)
	check("owner", chain.Owner, indexed.Owner)
	check("deposited", chain.Deposited, indexed.Deposited)
	check("claimed", chain.Claimed, indexed.Claimed)
	check("status", chain.Status.String(), indexed.Status.String())
	check("created_at", formatTime(chain.CreatedAt), formatTime(indexed.CreatedAt))
	return diffs
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// finalize sorts every bucket for deterministic output.
func (r *DriftResult) finalize() {
	sort.Strings(r.Matching)
	sort.Strings(r.Unindexed)
	sort.Strings(r.Dangling)
	sort.Strings(r.Unknown)
	sort.Slice(r.Divergent, func(i, j int) bool {
		if r.Divergent[i].Address == r.Divergent[j].Address {
			return r.Divergent[i].Field < r.Divergent[j].Field
		}
		return r.Divergent[i].Address < r.Divergent[j].Address
	})
}

// printTextReport writes a human-readable report to w.
func printTextReport(w io.Writer, network string, vaults, positions int, res DriftResult) {
	fmt.Fprintln(w, "=== Drift Check Report ===")
	fmt.Fprintf(w, "Network: %s\n", network)
	fmt.Fprintf(w, "Vaults checked: %d\n", vaults)
	fmt.Fprintf(w, "Positions checked: %d\n", positions)
	fmt.Fprintf(w, "Matching: %d\n", len(res.Matching))
	fmt.Fprintf(w, "Unindexed: %d\n", len(res.Unindexed))
	fmt.Fprintf(w, "Dangling: %d\n", len(res.Dangling))
	fmt.Fprintf(w, "Unknown: %d\n", len(res.Unknown))
	fmt.Fprintf(w, "Divergent: %d\n", len(res.Divergent))

	if len(res.Unindexed) > 0 {
		fmt.Fprintln(w, "\n--- Unindexed (on chain, missing from the read model) ---")
		for _, addr := range res.Unindexed {
			fmt.Fprintf(w, "  %s\n", addr)
		}
	}
	if len(res.Dangling) > 0 {
		fmt.Fprintln(w, "\n--- Dangling (in the read model, deleted on chain without closure) ---")
		for _, addr := range res.Dangling {
			fmt.Fprintf(w, "  %s\n", addr)
		}
	}
	if len(res.Unknown) > 0 {
		fmt.Fprintln(w, "\n--- Unknown (absent on both sides) ---")
		for _, addr := range res.Unknown {
			fmt.Fprintf(w, "  %s\n", addr)
		}
	}
	if len(res.Divergent) > 0 {
		fmt.Fprintln(w, "\n--- Divergent (field mismatches) ---")
		for _, d := range res.Divergent {
			fmt.Fprintf(w, "  %s: %s chain=%q indexed=%q\n", d.Address, d.Field, d.ChainValue, d.IndexedValue)
		}
	}

	fmt.Fprintln(w)
	if !res.HasDrift() {
		fmt.Fprintln(w, "Result: IN SYNC")
	} else {
		fmt.Fprintln(w, "Result: DRIFT")
	}
}

// printJSONReport writes a JSON report to w.
func printJSONReport(w io.Writer, network string, vaults, positions int, res DriftResult) error {
	report := struct {
		Network   string      `json:"network"`
		Vaults    int         `json:"vaults_checked"`
		Positions int         `json:"positions_checked"`
		Result    string      `json:"result"`
		Drift     DriftResult `json:"drift"`
	}{
		Network:   network,
		Vaults:    vaults,
		Positions: positions,
		Drift:     res,
	}
	if res.HasDrift() {
		report.Result = "DRIFT"
	} else {
		report.Result = "IN_SYNC"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
