package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/gateway"
	"LendLedger/internal/ledger"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const week = 7 * 24 * time.Hour

type engineFixture struct {
	engine     *Engine
	collateral *gateway.Vault
	loan       *gateway.Vault
	persist    chan Output
	publish    chan Output
}

func newEngineFixture(t *testing.T, liquidity int64) *engineFixture {
	t.Helper()

	custody := uuid.New()
	collateral := gateway.NewVault(gateway.AssetCollateral, custody)
	loan := gateway.NewVault(gateway.AssetLoan, custody)
	if err := loan.Credit(custody, liquidity); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	book := ledger.NewBook(collateral, loan, custody)

	persist := make(chan Output, 256)
	publish := make(chan Output, 256)
	eng := NewEngine(book, 0, 16, persist, publish, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return &engineFixture{
		engine:     eng,
		collateral: collateral,
		loan:       loan,
		persist:    persist,
		publish:    publish,
	}
}

func (f *engineFixture) fund(t *testing.T, account uuid.UUID, amount int64) {
	t.Helper()
	if err := f.collateral.Credit(account, amount); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := f.collateral.Approve(account, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *engineFixture) submit(t *testing.T, cmd Command) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.engine.Submit(ctx, cmd)
	if err != nil {
		t.Fatalf("submit %s: %v", cmd.Op, err)
	}
	return res
}

func (f *engineFixture) nextPersisted(t *testing.T) *event.Envelope {
	t.Helper()
	select {
	case out := <-f.persist:
		return out.Envelope
	case <-time.After(time.Second):
		t.Fatal("no output on persist channel")
		return nil
	}
}

func TestEngine_DepositEmitsEnvelope(t *testing.T) {
	f := newEngineFixture(t, 0)
	account := uuid.New()
	f.fund(t, account, 500)

	id := uuid.New()
	res := f.submit(t, Command{ID: id, Op: OpDeposit, Account: account, Amount: 500, Timestamp: t0})
	if res.Err != nil {
		t.Fatalf("deposit rejected: %v", res.Err)
	}
	if res.Sequence != 0 {
		t.Errorf("sequence = %d, want 0", res.Sequence)
	}

	env := f.nextPersisted(t)
	if env.Type != event.EventTypeDeposited {
		t.Errorf("type = %v, want Deposited", env.Type)
	}
	if env.EventID != id || env.Account != account || env.Amount != 500 {
		t.Errorf("envelope = %+v, want id/account/amount echoed", env)
	}
	if !env.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want versioned input %v", env.Timestamp, t0)
	}
}

func TestEngine_DuplicateInstructionIgnored(t *testing.T) {
	f := newEngineFixture(t, 0)
	account := uuid.New()
	f.fund(t, account, 1000)

	id := uuid.New()
	cmd := Command{ID: id, Op: OpDeposit, Account: account, Amount: 100, Timestamp: t0}

	first := f.submit(t, cmd)
	if first.Err != nil || first.Duplicate {
		t.Fatalf("first = %+v, want applied", first)
	}
	second := f.submit(t, cmd)
	if !second.Duplicate {
		t.Fatalf("second = %+v, want duplicate", second)
	}

	if got := f.engine.Book().GetPosition(account, t0).Collateral; got != 100 {
		t.Errorf("collateral = %d, want 100 (applied once)", got)
	}
	f.nextPersisted(t)
	select {
	case out := <-f.persist:
		t.Errorf("unexpected second persist output: %+v", out.Envelope)
	default:
	}
}

func TestEngine_RejectedCommandEmitsNothing(t *testing.T) {
	f := newEngineFixture(t, 10_000)
	account := uuid.New()

	res := f.submit(t, Command{ID: uuid.New(), Op: OpBorrow, Account: account, Amount: 1000, Timestamp: t0})
	if !errors.Is(res.Err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("err = %v, want ErrInsufficientCollateral", res.Err)
	}

	select {
	case out := <-f.persist:
		t.Errorf("rejected command persisted: %+v", out.Envelope)
	default:
	}
}

func TestEngine_RepayEnvelopeCarriesInterest(t *testing.T) {
	f := newEngineFixture(t, 10_000)
	account := uuid.New()
	f.fund(t, account, 1500)

	f.submit(t, Command{ID: uuid.New(), Op: OpDeposit, Account: account, Amount: 1500, Timestamp: t0})
	f.submit(t, Command{ID: uuid.New(), Op: OpBorrow, Account: account, Amount: 1000, Timestamp: t0})

	if err := f.loan.Credit(account, 50); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := f.loan.Approve(account, 1050); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res := f.submit(t, Command{ID: uuid.New(), Op: OpRepay, Account: account, Timestamp: t0.Add(week)})
	if res.Err != nil {
		t.Fatalf("repay rejected: %v", res.Err)
	}
	if res.Amount != 1050 {
		t.Errorf("repaid = %d, want 1050", res.Amount)
	}

	f.nextPersisted(t) // deposit
	f.nextPersisted(t) // borrow
	env := f.nextPersisted(t)
	if env.Type != event.EventTypeRepaid {
		t.Fatalf("type = %v, want Repaid", env.Type)
	}
	if env.Amount != 1050 || env.Interest != 50 {
		t.Errorf("amount/interest = %d/%d, want 1050/50", env.Amount, env.Interest)
	}
}

func TestEngine_SequencesAreDense(t *testing.T) {
	f := newEngineFixture(t, 10_000)
	account := uuid.New()
	f.fund(t, account, 1500)

	ops := []Command{
		{ID: uuid.New(), Op: OpDeposit, Account: account, Amount: 1500, Timestamp: t0},
		{ID: uuid.New(), Op: OpBorrow, Account: account, Amount: 1000, Timestamp: t0},
		{ID: uuid.New(), Op: OpBorrow, Account: account, Amount: 500, Timestamp: t0},
	}
	for i, cmd := range ops {
		res := f.submit(t, cmd)
		if res.Err != nil {
			t.Fatalf("op %d rejected: %v", i, res.Err)
		}
		if res.Sequence != int64(i) {
			t.Errorf("op %d sequence = %d, want %d", i, res.Sequence, i)
		}
		if env := f.nextPersisted(t); env.Sequence != int64(i) {
			t.Errorf("op %d envelope sequence = %d, want %d", i, env.Sequence, i)
		}
	}
}

func TestEngine_ConcurrentSubmitsSerialize(t *testing.T) {
	f := newEngineFixture(t, 0)

	const n = 50
	accounts := make([]uuid.UUID, n)
	for i := range accounts {
		accounts[i] = uuid.New()
		f.fund(t, accounts[i], 1)
	}

	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Submit(context.Background(), Command{
				ID: uuid.New(), Op: OpDeposit, Account: accounts[i], Amount: 1, Timestamp: t0,
			})
			if err != nil || res.Err != nil {
				t.Errorf("deposit %d: submit=%v result=%v", i, err, res.Err)
				return
			}
			seqs[i] = res.Sequence
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, s := range seqs {
		if s < 0 || s >= n {
			t.Errorf("sequence %d out of range [0,%d)", s, n)
		}
		if seen[s] {
			t.Errorf("sequence %d assigned twice", s)
		}
		seen[s] = true
	}
}

func TestEngine_PublishDropDoesNotBlock(t *testing.T) {
	custody := uuid.New()
	collateral := gateway.NewVault(gateway.AssetCollateral, custody)
	loan := gateway.NewVault(gateway.AssetLoan, custody)
	book := ledger.NewBook(collateral, loan, custody)

	persist := make(chan Output, 16)
	publish := make(chan Output) // unbuffered, no reader: every send drops
	eng := NewEngine(book, 0, 4, persist, publish, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	account := uuid.New()
	if err := collateral.Credit(account, 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := collateral.Approve(account, 10); err != nil {
		t.Fatalf("approve: %v", err)
	}

	for i := 0; i < 5; i++ {
		res, err := eng.Submit(ctx, Command{ID: uuid.New(), Op: OpDeposit, Account: account, Amount: 2, Timestamp: t0})
		if err != nil || res.Err != nil {
			t.Fatalf("deposit %d: submit=%v result=%v", i, err, res.Err)
		}
	}

	if got := len(persist); got != 5 {
		t.Errorf("persist outputs = %d, want 5 despite publish drops", got)
	}
}

func TestEngine_SnapshotViewMatchesAppliedState(t *testing.T) {
	f := newEngineFixture(t, 10_000)
	account := uuid.New()
	f.fund(t, account, 1_500)

	f.submit(t, Command{ID: uuid.New(), Op: OpDeposit, Account: account, Amount: 1_500, Timestamp: t0})
	res := f.submit(t, Command{ID: uuid.New(), Op: OpBorrow, Account: account, Amount: 1_000, Timestamp: t0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var view SnapshotView
	if err := f.engine.Snapshot(ctx, func(v SnapshotView) { view = v }); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if view.Sequence != res.Sequence {
		t.Errorf("snapshot sequence = %d, want %d", view.Sequence, res.Sequence)
	}
	if len(view.Records) != 1 {
		t.Fatalf("snapshot records = %d, want 1", len(view.Records))
	}
	r := view.Records[0]
	if r.Account != account || r.Collateral != 1_500 || r.Debt != 1_000 {
		t.Errorf("unexpected record: %+v", r)
	}
	if len(view.RecentKeys) != 2 {
		t.Errorf("recent keys = %d, want 2", len(view.RecentKeys))
	}
}

func TestEngine_SnapshotBeforeAnyCommand(t *testing.T) {
	f := newEngineFixture(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var view SnapshotView
	if err := f.engine.Snapshot(ctx, func(v SnapshotView) { view = v }); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if view.Sequence != -1 {
		t.Errorf("snapshot sequence = %d, want -1", view.Sequence)
	}
	if len(view.Records) != 0 {
		t.Errorf("snapshot records = %d, want 0", len(view.Records))
	}
}
