package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/ledger"
)

// SnapshotManager creates and loads position snapshots for recovery.
// Recovery is snapshot-only: the event log is the audit trail, but it is
// never replayed, because replaying would re-drive asset movements
// through the gateways.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full book state at a point in time.
type SnapshotData struct {
	Sequence           int64              `json:"sequence"`
	Positions          []PositionSnapshot `json:"positions"`
	CollateralBalances map[string]int64   `json:"collateral_balances"`
	LoanBalances       map[string]int64   `json:"loan_balances"`
	IdempotencyKeys    []string           `json:"idempotency_keys"`
	CreatedAt          time.Time          `json:"created_at"`
}

// PositionSnapshot is a serializable position record.
type PositionSnapshot struct {
	Account     string    `json:"account"`
	Collateral  int64     `json:"collateral"`
	Debt        int64     `json:"debt"`
	LastUpdated time.Time `json:"last_updated"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Re-saving the same
// sequence overwrites the stored data.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO lend_ledger.snapshots
			(snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent snapshot. Returns (nil, nil)
// on a cold start with no snapshot stored.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM lend_ledger.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Records converts snapshot positions back into book records.
func (snap *SnapshotData) Records() ([]ledger.Record, error) {
	records := make([]ledger.Record, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		account, err := uuid.Parse(p.Account)
		if err != nil {
			return nil, fmt.Errorf("snapshot account %q: %w", p.Account, err)
		}
		records = append(records, ledger.Record{
			Account:     account,
			Collateral:  p.Collateral,
			Debt:        p.Debt,
			LastUpdated: p.LastUpdated,
		})
	}
	return records, nil
}

// SnapshotFromBook builds snapshot data out of the live book records and
// gateway balances.
func SnapshotFromBook(
	sequence int64,
	records []ledger.Record,
	collateralBalances, loanBalances map[uuid.UUID]int64,
	idempotencyKeys []string,
	createdAt time.Time,
) *SnapshotData {
	positions := make([]PositionSnapshot, 0, len(records))
	for _, r := range records {
		positions = append(positions, PositionSnapshot{
			Account:     r.Account.String(),
			Collateral:  r.Collateral,
			Debt:        r.Debt,
			LastUpdated: r.LastUpdated,
		})
	}

	return &SnapshotData{
		Sequence:           sequence,
		Positions:          positions,
		CollateralBalances: stringKeys(collateralBalances),
		LoanBalances:       stringKeys(loanBalances),
		IdempotencyKeys:    idempotencyKeys,
		CreatedAt:          createdAt,
	}
}

func stringKeys(balances map[uuid.UUID]int64) map[string]int64 {
	out := make(map[string]int64, len(balances))
	for holder, balance := range balances {
		out[holder.String()] = balance
	}
	return out
}

// RecentEventKeys returns composite "type:id" keys of the most recent
// events, used to warm the engine's idempotency LRU on restart.
func (sm *SnapshotManager) RecentEventKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, event_id FROM lend_ledger.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, eventID string
		if err := rows.Scan(&eventType, &eventID); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", eventType, eventID))
	}
	return keys, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, or -1
// for an empty log.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_ledger.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// ResumeSequence picks the engine's next sequence after a restart. The
// event log runs ahead of the latest snapshot when the process dies
// between a batch write and the next snapshot; resuming past both sides
// keeps the engine from re-issuing sequences the log already holds,
// which the writer's conflict handling would otherwise silently drop.
// Both arguments use -1 to mean "none".
func ResumeSequence(snapshotSeq, logSeq int64) int64 {
	next := snapshotSeq + 1
	if logSeq+1 > next {
		next = logSeq + 1
	}
	return next
}
