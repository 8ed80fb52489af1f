package chainstate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// accountsBatchLimit is the getMultipleAccounts cap imposed by the node.
const accountsBatchLimit = 100

// GetSlot returns the current slot at the given commitment.
func (c *Client) GetSlot(ctx context.Context, commitment string) (int64, error) {
	params := []interface{}{
		map[string]string{"commitment": commitment},
	}
	result, err := c.call(ctx, "getSlot", params)
	if err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}

	var slot int64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("unmarshal slot: %w", err)
	}
	return slot, nil
}

// GetMultipleAccounts fetches every address in chunks of at most 100 and
// returns an entry per requested address. An address holding no account
// maps to Account{Exists: false}.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string) (map[string]Account, error) {
	out := make(map[string]Account, len(addresses))
	for start := 0; start < len(addresses); start += accountsBatchLimit {
		end := min(start+accountsBatchLimit, len(addresses))
		chunk := addresses[start:end]

		params := []interface{}{
			chunk,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		}
		result, err := c.call(ctx, "getMultipleAccounts", params)
		if err != nil {
			return nil, fmt.Errorf("getMultipleAccounts: %w", err)
		}

		var res multipleAccountsResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("unmarshal accounts: %w", err)
		}
		if len(res.Value) != len(chunk) {
			return nil, fmt.Errorf("getMultipleAccounts returned %d values for %d addresses", len(res.Value), len(chunk))
		}

		for i, v := range res.Value {
			addr := chunk[i]
			if v == nil {
				out[addr] = Account{Exists: false}
				continue
			}
			data, err := decodeAccountData(v.Data)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", addr, err)
			}
			out[addr] = Account{
				Data:     data,
				Owner:    v.Owner,
				Lamports: v.Lamports,
				Exists:   true,
			}
		}
	}
	return out, nil
}

func decodeAccountData(data []string) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("missing account data")
	}
	if len(data) > 1 && data[1] != "base64" {
		return nil, fmt.Errorf("unsupported encoding %q", data[1])
	}
	raw, err := base64.StdEncoding.DecodeString(data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return raw, nil
}
