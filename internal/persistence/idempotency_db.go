package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker answers the engine's cold-path dedup lookups
// against the event log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks whether an event with this type and instruction ID
// already exists in the log. The lookup is bounded so a slow DB cannot
// stall the engine for long.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM lend_ledger.events
		WHERE event_type = $1 AND event_id = $2::uuid
		LIMIT 1
	`, eventType, key).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
