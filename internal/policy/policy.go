// Package policy holds the protocol constants for the lending facility.
// The values are fixed for the lifetime of the process; nothing in the
// system mutates them and no governance hook exists.
package policy

// Protocol parameters. Interest is flat simple interest stepped per whole
// accrual period; collateral and loan assets trade at a fixed 1:1 valuation.
const (
	// InterestRatePercent is the simple interest charged per full accrual
	// period on outstanding debt.
	InterestRatePercent int64 = 5

	// CollateralRatioPercent is the minimum collateral-to-loan ratio a
	// borrow must satisfy.
	CollateralRatioPercent int64 = 150

	// PriceRatio is the fixed collateral/loan valuation. Both assets are
	// treated as interchangeable units of value; no price feed exists.
	PriceRatio int64 = 1

	// SecondsPerWeek is the length of one interest accrual period.
	SecondsPerWeek int64 = 7 * 24 * 3600
)

// RequiredCollateral returns the collateral needed to borrow amount,
// using floor division. The boundary (collateral == required) is a
// permitted borrow.
func RequiredCollateral(amount int64) int64 {
	return amount * CollateralRatioPercent / 100
}
