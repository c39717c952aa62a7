package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/ledger"
)

// Service answers read queries. Positions come from the live book, as
// fresh as the last applied operation, while event history is read from
// the Postgres log, which trails the book by at most one persistence
// flush.
type Service struct {
	book *ledger.Book
	db   *sql.DB
}

func NewService(book *ledger.Book, db *sql.DB) *Service {
	return &Service{book: book, db: db}
}

// GetPosition returns the account's position with interest computed as
// of now. Unknown accounts read as an empty position.
func (s *Service) GetPosition(account uuid.UUID, now time.Time) PositionResponse {
	view := s.book.GetPosition(account, now)

	state := ledger.StateEmpty
	switch {
	case view.Debt > 0:
		state = ledger.StateBorrowed
	case view.Collateral > 0:
		state = ledger.StateCollateralized
	}

	return PositionResponse{
		Account:    account,
		Collateral: view.Collateral,
		Debt:       view.Debt,
		Interest:   view.Interest,
		State:      state.String(),
		AsOf:       now,
	}
}

// GetCustody reports pool-level state: available loan liquidity, total
// collateral held, open position count, and the highest persisted event
// sequence.
func (s *Service) GetCustody(ctx context.Context) (CustodyResponse, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_ledger.events
	`).Scan(&seq)
	if err != nil && err != sql.ErrNoRows {
		return CustodyResponse{}, fmt.Errorf("persisted sequence: %w", err)
	}

	return CustodyResponse{
		LoanLiquidity:     s.book.LoanLiquidity(),
		CollateralHeld:    s.book.CollateralHeld(),
		OpenPositions:     s.book.OpenPositions(),
		PersistedSequence: seq.Int64,
	}, nil
}

// GetEventHistory returns persisted events for an account, newest first,
// with cursor-based pagination on sequence.
func (s *Service) GetEventHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]EventHistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT sequence, event_type, event_id, account, amount, interest, timestamp
		FROM lend_ledger.events
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.EventID, &e.Account,
			&e.Amount, &e.Interest, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetActivity returns the projected lifetime totals for an account. An
// account with no persisted events yet gets a zeroed response.
func (s *Service) GetActivity(ctx context.Context, account uuid.UUID) (ActivityResponse, error) {
	resp := ActivityResponse{Account: account}
	err := s.db.QueryRowContext(ctx, `
		SELECT deposited_total, borrowed_total, repaid_total,
		       interest_paid_total, withdrawn_total, event_count,
		       last_sequence, updated_at
		FROM lend_ledger.account_activity
		WHERE account = $1
	`, account).Scan(
		&resp.DepositedTotal, &resp.BorrowedTotal, &resp.RepaidTotal,
		&resp.InterestPaidTotal, &resp.WithdrawnTotal, &resp.EventCount,
		&resp.LastSequence, &resp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return ActivityResponse{Account: account}, nil
	}
	if err != nil {
		return ActivityResponse{}, err
	}
	return resp, nil
}
