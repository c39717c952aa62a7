package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/event"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventRow represents a row in lend_ledger.events.
type EventRow struct {
	Sequence  int64
	EventType string
	EventID   string
	Account   string
	Amount    int64
	Interest  int64
	Timestamp time.Time
}

// RowFromEnvelope converts an engine envelope into its storage row.
func RowFromEnvelope(env *event.Envelope) EventRow {
	return EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		EventID:   env.EventID.String(),
		Account:   env.Account.String(),
		Amount:    env.Amount,
		Interest:  env.Interest,
		Timestamp: env.Timestamp,
	}
}

// EventLogWriter writes events to Postgres using multi-row batch inserts.
// ON CONFLICT DO NOTHING keeps retried batches idempotent: a sequence
// already present is simply skipped.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO lend_ledger.events
		(sequence, event_type, event_id, account, amount, interest, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*7)

	for i, e := range events {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d::uuid, $%d::uuid, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			e.Sequence, e.EventType, e.EventID, e.Account,
			e.Amount, e.Interest, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
