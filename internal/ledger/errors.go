package ledger

import "errors"

// Operation failures. Every failure aborts the whole operation with no
// partial effects and is surfaced verbatim to the caller; the ledger never
// retries or degrades. Gateway failures (insufficient balance/allowance)
// propagate unwrapped from the gateway package.
var (
	ErrInvalidAmount          = errors.New("ledger: amount must be positive")
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("ledger: insufficient liquidity")
	ErrNoDebtToRepay          = errors.New("ledger: no outstanding debt to repay")
	ErrOutstandingDebt        = errors.New("ledger: outstanding debt")
	ErrNoCollateral           = errors.New("ledger: no collateral to withdraw")
)
