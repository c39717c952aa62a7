package ledger

import "time"

// Position is the per-account lending record. Created implicitly on first
// deposit and never deleted; a closed position persists at all-zero.
type Position struct {
	// Collateral is the deposited collateral-asset amount. Never negative:
	// operations either add to it or clear it entirely.
	Collateral int64

	// Debt is the outstanding loan-asset principal. Interest is computed
	// from Debt and LastUpdated on demand, never stored.
	Debt int64

	// LastUpdated is the timestamp of the most recent mutation affecting
	// interest accrual. Advanced by deposit and borrow, read by repay.
	LastUpdated time.Time
}

// PositionState classifies a position within its lifecycle.
type PositionState int32

const (
	StateEmpty PositionState = iota
	StateCollateralized
	StateBorrowed
)

func (s PositionState) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateCollateralized:
		return "Collateralized"
	case StateBorrowed:
		return "Borrowed"
	default:
		return "Unknown"
	}
}

// State derives the lifecycle state from the stored balances.
func (p *Position) State() PositionState {
	switch {
	case p.Debt > 0:
		return StateBorrowed
	case p.Collateral > 0:
		return StateCollateralized
	default:
		return StateEmpty
	}
}

// canTransitionTo documents the legal lifecycle transitions; the book's
// guard clauses enforce them through balance checks. Borrowed→Borrowed is
// legal (further borrowing); Empty→Borrowed is not, since zero collateral
// cannot satisfy any positive collateral requirement.
func (s PositionState) canTransitionTo(next PositionState) bool {
	validTransitions := map[PositionState][]PositionState{
		StateEmpty: {
			StateCollateralized,
		},
		StateCollateralized: {
			StateBorrowed,
			StateCollateralized, // further deposits
			StateEmpty,          // withdrawal
		},
		StateBorrowed: {
			StateBorrowed, // further borrow, deposits, accrual
			StateCollateralized,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

// View is the read-query shape returned by GetPosition: the stored fields
// plus interest accrued as of the query time.
type View struct {
	Collateral int64
	Debt       int64
	Interest   int64
}
