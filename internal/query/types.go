package query

import (
	"time"

	"github.com/google/uuid"
)

// PositionResponse is the live view of one account's position. Interest
// is computed for the query time and grows as weeks elapse; nothing is
// stored until repayment.
type PositionResponse struct {
	Account    uuid.UUID `json:"account"`
	Collateral int64     `json:"collateral"`
	Debt       int64     `json:"debt"`
	Interest   int64     `json:"interest"`
	State      string    `json:"state"`
	AsOf       time.Time `json:"as_of"`
}

// EventHistoryEntry is one persisted event from the log.
type EventHistoryEntry struct {
	Sequence  int64     `json:"sequence"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Account   string    `json:"account"`
	Amount    int64     `json:"amount"`
	Interest  int64     `json:"interest"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityResponse summarizes an account's lifetime activity from the
// read model. Totals lag the live position by the projection interval.
type ActivityResponse struct {
	Account           uuid.UUID `json:"account"`
	DepositedTotal    int64     `json:"deposited_total"`
	BorrowedTotal     int64     `json:"borrowed_total"`
	RepaidTotal       int64     `json:"repaid_total"`
	InterestPaidTotal int64     `json:"interest_paid_total"`
	WithdrawnTotal    int64     `json:"withdrawn_total"`
	EventCount        int64     `json:"event_count"`
	LastSequence      int64     `json:"last_sequence"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CustodyResponse reports the pool-level state of the ledger.
type CustodyResponse struct {
	LoanLiquidity     int64 `json:"loan_liquidity"`
	CollateralHeld    int64 `json:"collateral_held"`
	OpenPositions     int   `json:"open_positions"`
	PersistedSequence int64 `json:"persisted_sequence"`
}
