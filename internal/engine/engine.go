package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/gateway"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
)

// Op identifies a mutating ledger operation.
type Op int32

const (
	OpUnknown Op = iota
	OpDeposit
	OpBorrow
	OpRepay
	OpWithdraw
)

func (op Op) String() string {
	switch op {
	case OpDeposit:
		return "deposit"
	case OpBorrow:
		return "borrow"
	case OpRepay:
		return "repay"
	case OpWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Command is one instruction submitted for execution. ID is the stable
// idempotency key assigned upstream; Timestamp is the versioned input
// time assigned by the shell, never by the engine.
type Command struct {
	ID        uuid.UUID
	Op        Op
	Account   uuid.UUID
	Amount    int64
	Timestamp time.Time

	reply chan Result
}

// Result reports the outcome of one executed command. Amount carries the
// moved total: principal plus interest for repay, the returned collateral
// for withdraw, the command amount otherwise.
type Result struct {
	Sequence  int64
	Amount    int64
	Duplicate bool
	Err       error
}

// Output is what the engine emits per applied command.
type Output struct {
	Envelope *event.Envelope
}

// Engine serializes all mutating operations through a single goroutine,
// giving every command a place in one total order. Reads bypass the
// queue and go straight to the book.
type Engine struct {
	book        *ledger.Book
	sequence    int64
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	commands    chan Command
	snapshots   chan snapshotReq
	persistChan chan<- Output
	publishChan chan<- Output
}

// SnapshotView is a consistent capture of engine state, taken between
// commands. Sequence is the last applied sequence, -1 when nothing has
// been applied yet.
type SnapshotView struct {
	Sequence   int64
	Records    []ledger.Record
	RecentKeys []string
}

type snapshotReq struct {
	capture func(SnapshotView)
	done    chan struct{}
}

// NewEngine creates the engine. startSequence is the next sequence number
// to assign; after a snapshot restore it is the snapshot sequence plus one.
func NewEngine(
	book *ledger.Book,
	startSequence int64,
	queueDepth int,
	persistChan, publishChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		book:        book,
		sequence:    startSequence,
		idempotency: NewIdempotencyChecker(1_000_000, dbChecker, metrics),
		metrics:     metrics,
		logger:      logger,
		commands:    make(chan Command, queueDepth),
		snapshots:   make(chan snapshotReq),
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// Book exposes the underlying position book for read paths.
func (e *Engine) Book() *ledger.Book {
	return e.book
}

// Sequence returns the next sequence to assign. Safe to call only before
// Run starts or after it returns.
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// Warm preloads idempotency keys, used on restart.
func (e *Engine) Warm(keys []string) {
	e.idempotency.Warm(keys)
}

// Submit queues a command and waits for its result. Commands from
// concurrent submitters interleave in arrival order; each one executes
// alone against the book.
func (e *Engine) Submit(ctx context.Context, cmd Command) (Result, error) {
	cmd.reply = make(chan Result, 1)

	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run executes commands until ctx is canceled. Exactly one Run goroutine
// may exist per engine.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Int64("start_sequence", e.sequence).Msg("engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Int64("sequence", e.sequence).Msg("engine stopped")
			return
		case cmd := <-e.commands:
			res := e.apply(cmd)
			if cmd.reply != nil {
				cmd.reply <- res
			}
		case req := <-e.snapshots:
			req.capture(SnapshotView{
				Sequence:   e.sequence - 1,
				Records:    e.book.Snapshot(),
				RecentKeys: e.idempotency.RecentKeys(snapshotKeyLimit),
			})
			close(req.done)
		}
	}
}

// snapshotKeyLimit bounds how many dedup keys a snapshot carries.
const snapshotKeyLimit = 10_000

// Snapshot runs capture between commands, so the view is consistent with
// anything else only the engine goroutine mutates, such as gateway
// balances. capture must not submit commands; that would deadlock.
func (e *Engine) Snapshot(ctx context.Context, capture func(SnapshotView)) error {
	req := snapshotReq{capture: capture, done: make(chan struct{})}

	select {
	case e.snapshots <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) apply(cmd Command) Result {
	start := time.Now()
	op := cmd.Op.String()
	key := cmd.ID.String()
	// Dedup is keyed on the stored event type name so LRU warming and the
	// Postgres lookup agree on the composite key format.
	dedupType := eventTypeOf(cmd.Op).String()

	if e.idempotency.IsDuplicate(dedupType, key) {
		if e.metrics != nil {
			e.metrics.EngineOpsRejected.WithLabelValues(op, "duplicate").Inc()
		}
		return Result{Duplicate: true}
	}

	var (
		amount   int64
		interest int64
		err      error
	)

	switch cmd.Op {
	case OpDeposit:
		amount = cmd.Amount
		err = e.book.Deposit(cmd.Account, cmd.Amount, cmd.Timestamp)
	case OpBorrow:
		amount = cmd.Amount
		err = e.book.Borrow(cmd.Account, cmd.Amount, cmd.Timestamp)
	case OpRepay:
		before := e.book.GetPosition(cmd.Account, cmd.Timestamp)
		amount, err = e.book.Repay(cmd.Account, cmd.Timestamp)
		interest = amount - before.Debt
	case OpWithdraw:
		amount, err = e.book.WithdrawCollateral(cmd.Account)
	default:
		err = ErrUnknownOp
	}

	if err != nil {
		if e.metrics != nil {
			e.metrics.EngineOpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		}
		e.logger.Debug().
			Str("op", op).
			Str("account", cmd.Account.String()).
			Err(err).
			Msg("command rejected")
		return Result{Err: err}
	}

	envelope := &event.Envelope{
		Sequence:  e.sequence,
		EventID:   cmd.ID,
		Type:      eventTypeOf(cmd.Op),
		Account:   cmd.Account,
		Amount:    amount,
		Interest:  interest,
		Timestamp: cmd.Timestamp,
	}

	out := Output{Envelope: envelope}

	// Persistence: blocking send. The engine stalls until the persistence
	// worker drains, guaranteeing no applied event is lost.
	if e.metrics != nil && len(e.persistChan) == cap(e.persistChan) {
		e.metrics.PersistBackpressure.Inc()
	}
	e.persistChan <- out

	// Publish: non-blocking send, drop on full. Downstream consumers can
	// rebuild from the event log if they fall behind.
	select {
	case e.publishChan <- out:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}

	seq := e.sequence
	e.sequence++
	e.idempotency.MarkProcessed(dedupType, key)

	if e.metrics != nil {
		e.metrics.EngineOpsApplied.WithLabelValues(op).Inc()
		e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.LoanLiquidity.Set(float64(e.book.LoanLiquidity()))
		e.metrics.OpenPositions.Set(float64(e.book.OpenPositions()))
		if interest > 0 {
			e.metrics.InterestEarned.Add(float64(interest))
		}
	}

	return Result{Sequence: seq, Amount: amount}
}

// ErrUnknownOp is returned for commands with an unrecognized operation.
var ErrUnknownOp = errors.New("engine: unknown operation")

func eventTypeOf(op Op) event.EventType {
	switch op {
	case OpDeposit:
		return event.EventTypeDeposited
	case OpBorrow:
		return event.EventTypeBorrowed
	case OpRepay:
		return event.EventTypeRepaid
	case OpWithdraw:
		return event.EventTypeWithdrawn
	default:
		return event.EventTypeUnknown
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, gateway.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ledger.ErrNoDebtToRepay):
		return "no_debt"
	case errors.Is(err, ledger.ErrOutstandingDebt):
		return "outstanding_debt"
	case errors.Is(err, ledger.ErrNoCollateral):
		return "no_collateral"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}
