package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/ledger"
	"LendLedger/internal/testutil"
)

// Integration tests need a real Postgres; they are skipped unless
// INTEGRATION_TEST=1 and the docker-compose.test.yml stack is up.

func rowAt(seq int64, eventType string, account uuid.UUID, amount, interest int64, ts time.Time) EventRow {
	return EventRow{
		Sequence:  seq,
		EventType: eventType,
		EventID:   uuid.New().String(),
		Account:   account.String(),
		Amount:    amount,
		Interest:  interest,
		Timestamp: ts,
	}
}

func TestEventLog_BatchWriteAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := NewEventLogWriter(db)
	account := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := []EventRow{
		rowAt(0, "Deposited", account, 1_500, 0, ts),
		rowAt(1, "Borrowed", account, 1_000, 0, ts),
	}
	if err := writer.WriteEventBatch(ctx, db, batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	// A retried batch must be a no-op for sequences already written.
	if err := writer.WriteEventBatch(ctx, db, batch); err != nil {
		t.Fatalf("rewrite batch: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lend_ledger.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Errorf("event count = %d, want 2", count)
	}

	// The dedup checker sees the persisted event.
	checker := NewPostgresIdempotencyChecker(db)
	isDup, err := checker.IsDuplicate("Deposited", batch[0].EventID)
	if err != nil {
		t.Fatalf("dedup check: %v", err)
	}
	if !isDup {
		t.Error("expected persisted event to be reported as duplicate")
	}
	isDup, err = checker.IsDuplicate("Deposited", uuid.New().String())
	if err != nil {
		t.Fatalf("dedup check: %v", err)
	}
	if isDup {
		t.Error("unknown event id should not be a duplicate")
	}
}

func TestSnapshot_SaveAndLoadRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	snapMgr := NewSnapshotManager(db)
	account := uuid.New()
	custody := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []ledger.Record{{
		Account:     account,
		Collateral:  1_500,
		Debt:        1_000,
		LastUpdated: ts,
	}}
	snap := SnapshotFromBook(
		41,
		records,
		map[uuid.UUID]int64{custody: 1_500},
		map[uuid.UUID]int64{custody: 9_000, account: 1_000},
		[]string{"Deposited:" + uuid.New().String()},
		ts,
	)
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot")
	}
	if loaded.Sequence != 41 {
		t.Errorf("sequence = %d, want 41", loaded.Sequence)
	}

	got, err := loaded.Records()
	if err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(got) != 1 || got[0] != records[0] {
		t.Errorf("records = %+v, want %+v", got, records)
	}
	if loaded.LoanBalances[custody.String()] != 9_000 {
		t.Errorf("custody loan balance = %d, want 9000", loaded.LoanBalances[custody.String()])
	}
	if len(loaded.IdempotencyKeys) != 1 {
		t.Errorf("idempotency keys = %d, want 1", len(loaded.IdempotencyKeys))
	}
}

func TestRestart_ResumesAfterEventLog(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	snapMgr := NewSnapshotManager(db)

	logSeq, err := snapMgr.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if logSeq != -1 {
		t.Fatalf("empty log sequence = %d, want -1", logSeq)
	}

	// Snapshot at 10, then events 11..14 persisted before a crash.
	account := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := SnapshotFromBook(10, nil, nil, nil, nil, ts)
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	writer := NewEventLogWriter(db)
	batch := []EventRow{
		rowAt(11, "Deposited", account, 1_500, 0, ts),
		rowAt(12, "Borrowed", account, 1_000, 0, ts),
		rowAt(13, "Repaid", account, 1_000, 0, ts),
		rowAt(14, "Withdrawn", account, 1_500, 0, ts),
	}
	if err := writer.WriteEventBatch(ctx, db, batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	logSeq, err = snapMgr.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if logSeq != 14 {
		t.Fatalf("log sequence = %d, want 14", logSeq)
	}

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	// Restarting from the snapshot alone would re-issue 11..14 and the
	// writer's conflict handling would drop the colliding rows.
	if got := ResumeSequence(loaded.Sequence, logSeq); got != 15 {
		t.Errorf("resume sequence = %d, want 15", got)
	}
}
