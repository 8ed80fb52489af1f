package reconcile

import (
	"math/big"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
)

// Settle computes the closing claim total for a position that vanished
// on chain. Canceled vaults refund deposits exactly; otherwise the
// payout ratio applies with floor division. A missing ratio degrades to
// a refund.
func Settle(deposited string, parentStatus model.VaultStatus, payoutNum, payoutDen uint64) string {
	dep, ok := new(big.Int).SetString(deposited, 10)
	if !ok || dep.Sign() < 0 {
		return "0"
	}
	if parentStatus == model.StatusCanceled || payoutNum == 0 || payoutDen == 0 {
		return dep.String()
	}
	out := new(big.Int).Mul(dep, new(big.Int).SetUint64(payoutNum))
	out.Quo(out, new(big.Int).SetUint64(payoutDen))
	return out.String()
}

// amountDelta returns new−old as a decimal string when the movement is
// positive. Missing old means a first observation: the new total is the
// movement.
func amountDelta(newAmount, oldAmount string) (string, bool) {
	n, ok := new(big.Int).SetString(newAmount, 10)
	if !ok {
		return "", false
	}
	if oldAmount != "" {
		o, ok := new(big.Int).SetString(oldAmount, 10)
		if !ok {
			return "", false
		}
		n = new(big.Int).Sub(n, o)
	}
	if n.Sign() <= 0 {
		return "", false
	}
	return n.String(), true
}
