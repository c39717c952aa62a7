package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Worker maintains the per-account activity read model by tailing the
// event log. It is eventually consistent: if it falls behind or its
// tables are lost, Rebuild regenerates them from the event log.
type Worker struct {
	db       *sql.DB
	interval time.Duration
	logger   zerolog.Logger
	lastSeq  int64
}

func NewWorker(db *sql.DB, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{db: db, interval: interval, logger: logger}
}

// Run tails the event log until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.loadWatermark(ctx); err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	w.logger.Info().Int64("watermark", w.lastSeq).Msg("projection worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.advance(ctx); err != nil {
				w.logger.Warn().Err(err).Int64("watermark", w.lastSeq).
					Msg("projection update failed, will retry")
			}
		}
	}
}

func (w *Worker) loadWatermark(ctx context.Context) error {
	err := w.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM lend_ledger.projection_watermark
		WHERE worker_id = 'activity'
	`).Scan(&w.lastSeq)
	if err == sql.ErrNoRows {
		w.lastSeq = -1
		return nil
	}
	return err
}

// advance folds all events past the watermark into account_activity in
// one transaction, then moves the watermark.
func (w *Worker) advance(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_ledger.events WHERE sequence > $1
	`, w.lastSeq).Scan(&maxSeq); err != nil {
		return err
	}
	if !maxSeq.Valid {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend_ledger.account_activity
			(account, deposited_total, borrowed_total, repaid_total,
			 interest_paid_total, withdrawn_total, event_count, last_sequence, updated_at)
		SELECT
			account,
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Deposited'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Borrowed'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Repaid'), 0),
			COALESCE(SUM(interest) FILTER (WHERE event_type = 'Repaid'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Withdrawn'), 0),
			COUNT(*),
			MAX(sequence),
			NOW()
		FROM lend_ledger.events
		WHERE sequence > $1 AND sequence <= $2
		GROUP BY account
		ON CONFLICT (account) DO UPDATE SET
			deposited_total     = lend_ledger.account_activity.deposited_total + EXCLUDED.deposited_total,
			borrowed_total      = lend_ledger.account_activity.borrowed_total + EXCLUDED.borrowed_total,
			repaid_total        = lend_ledger.account_activity.repaid_total + EXCLUDED.repaid_total,
			interest_paid_total = lend_ledger.account_activity.interest_paid_total + EXCLUDED.interest_paid_total,
			withdrawn_total     = lend_ledger.account_activity.withdrawn_total + EXCLUDED.withdrawn_total,
			event_count         = lend_ledger.account_activity.event_count + EXCLUDED.event_count,
			last_sequence       = EXCLUDED.last_sequence,
			updated_at          = NOW()
	`, w.lastSeq, maxSeq.Int64); err != nil {
		return fmt.Errorf("fold activity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend_ledger.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ('activity', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, maxSeq.Int64); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.lastSeq = maxSeq.Int64
	return nil
}

// Rebuild regenerates account_activity from the full event log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE lend_ledger.account_activity`,
		`DELETE FROM lend_ledger.projection_watermark WHERE worker_id = 'activity'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO lend_ledger.account_activity
			(account, deposited_total, borrowed_total, repaid_total,
			 interest_paid_total, withdrawn_total, event_count, last_sequence, updated_at)
		SELECT
			account,
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Deposited'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Borrowed'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Repaid'), 0),
			COALESCE(SUM(interest) FILTER (WHERE event_type = 'Repaid'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'Withdrawn'), 0),
			COUNT(*),
			MAX(sequence),
			NOW()
		FROM lend_ledger.events
		GROUP BY account
	`)
	if err != nil {
		return fmt.Errorf("rebuild activity: %w", err)
	}
	return nil
}
