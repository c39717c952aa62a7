// Package interest implements the accrual formula for outstanding debt.
// Interest is a pure function of (debt, elapsed time): it is computed on
// demand and never stored as a balance.
package interest

import (
	"math/big"
	"time"

	"LendLedger/internal/policy"
)

// Accrued returns the simple interest owed on debt after the time between
// lastUpdated and now. The result is a step function: zero until a full
// accrual period has elapsed, then one full period's interest per completed
// period. All arithmetic is integer floor division.
func Accrued(debt int64, lastUpdated, now time.Time) int64 {
	if debt == 0 {
		return 0
	}

	elapsed := now.Unix() - lastUpdated.Unix()
	if elapsed < policy.SecondsPerWeek {
		// Covers negative elapsed (clock skew on restore) as zero periods.
		return 0
	}
	periods := elapsed / policy.SecondsPerWeek

	// debt * rate * periods can exceed int64 for large debts; go through
	// big.Int for the intermediate product the way the settlement math does.
	raw := new(big.Int).Mul(big.NewInt(debt), big.NewInt(policy.InterestRatePercent))
	raw.Mul(raw, big.NewInt(periods))
	raw.Quo(raw, big.NewInt(100))
	return raw.Int64()
}
