package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/gateway"
	"LendLedger/internal/interest"
	"LendLedger/internal/policy"
)

// Book is the authoritative account→Position mapping. It owns every
// Position record exclusively; all writes go through the four mutating
// operations, which the engine serializes. GetPosition is safe to call
// concurrently with anything.
//
// Timestamps are versioned inputs supplied by the shell; the book never
// calls time.Now().
type Book struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]*Position

	collateral gateway.TransferGateway
	loan       gateway.TransferGateway
	custody    uuid.UUID
}

// NewBook creates an empty book backed by one gateway per asset. custody
// is the holder identity of the ledger's own funds in both gateways.
func NewBook(collateral, loan gateway.TransferGateway, custody uuid.UUID) *Book {
	return &Book{
		positions:  make(map[uuid.UUID]*Position),
		collateral: collateral,
		loan:       loan,
		custody:    custody,
	}
}

// ensurePosition returns the account's position, creating the zero record
// on first touch. Caller holds b.mu.
func (b *Book) ensurePosition(account uuid.UUID) *Position {
	pos, ok := b.positions[account]
	if !ok {
		pos = &Position{}
		b.positions[account] = pos
	}
	return pos
}

// Deposit pulls amount of the collateral asset from the account into
// custody and credits the position. The only precondition is that the
// gateway move succeeds; a zero amount is a permitted no-op move that
// still advances the interest clock. Advancing the clock on positions
// with existing debt silently restarts accrual; that is observed
// upstream behavior, kept as-is.
func (b *Book) Deposit(account uuid.UUID, amount int64, now time.Time) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.collateral.MoveIn(account, amount); err != nil {
		return err
	}

	pos := b.ensurePosition(account)
	pos.Collateral += amount
	pos.LastUpdated = now
	return nil
}

// Borrow checks the requested amount against the collateral requirement
// and custody liquidity, records the debt, and pays out the loan asset.
// The collateral check covers only the newly requested amount, not
// cumulative debt; upstream behavior, kept as-is. The boundary
// collateral == required is a permitted borrow.
func (b *Book) Borrow(account uuid.UUID, amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.ensurePosition(account)

	required := policy.RequiredCollateral(amount)
	if pos.Collateral*policy.PriceRatio < required {
		return ErrInsufficientCollateral
	}
	if b.loan.BalanceOf(b.custody) < amount {
		return ErrInsufficientLiquidity
	}

	prevUpdated := pos.LastUpdated
	pos.Debt += amount
	pos.LastUpdated = now

	if err := b.loan.MoveOut(account, amount); err != nil {
		// Liquidity was verified above; revert so a gateway fault cannot
		// leave a half-applied borrow.
		pos.Debt -= amount
		pos.LastUpdated = prevUpdated
		return err
	}
	return nil
}

// Repay settles the full debt plus interest accrued since LastUpdated.
// Interest is computed fresh, collected once, and forgiven; it is never
// recorded as a balance. LastUpdated is read, not reset. Returns the total
// amount moved in.
func (b *Book) Repay(account uuid.UUID, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.ensurePosition(account)
	if pos.Debt == 0 {
		return 0, ErrNoDebtToRepay
	}

	owed := interest.Accrued(pos.Debt, pos.LastUpdated, now)
	total := pos.Debt + owed

	if err := b.loan.MoveIn(account, total); err != nil {
		return 0, err
	}

	pos.Debt = 0
	return total, nil
}

// WithdrawCollateral returns the full stored collateral to the account.
// Permitted only when the debt is fully repaid. Returns the amount moved.
func (b *Book) WithdrawCollateral(account uuid.UUID) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.ensurePosition(account)
	if pos.Debt != 0 {
		return 0, ErrOutstandingDebt
	}
	if pos.Collateral == 0 {
		return 0, ErrNoCollateral
	}

	amount := pos.Collateral
	if err := b.collateral.MoveOut(account, amount); err != nil {
		return 0, err
	}

	pos.Collateral = 0
	return amount, nil
}

// GetPosition reports the stored balances plus interest accrued as of now.
// Read-only: it never touches the gateways, creates no position record,
// and is safe under concurrent mutation.
func (b *Book) GetPosition(account uuid.UUID, now time.Time) View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[account]
	if !ok {
		return View{}
	}
	return View{
		Collateral: pos.Collateral,
		Debt:       pos.Debt,
		Interest:   interest.Accrued(pos.Debt, pos.LastUpdated, now),
	}
}

// LoanLiquidity reports the custody balance of the loan asset, the one
// resource shared across accounts.
func (b *Book) LoanLiquidity() int64 {
	return b.loan.BalanceOf(b.custody)
}

// CollateralHeld reports the collateral asset held in custody.
func (b *Book) CollateralHeld() int64 {
	return b.collateral.BalanceOf(b.custody)
}

// OpenPositions counts positions that are not Empty.
func (b *Book) OpenPositions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, pos := range b.positions {
		if pos.State() != StateEmpty {
			n++
		}
	}
	return n
}

// Record is the serializable form of one position, for snapshots.
type Record struct {
	Account     uuid.UUID
	Collateral  int64
	Debt        int64
	LastUpdated time.Time
}

// Snapshot copies every position, including all-zero closed ones so a
// restore reproduces the book exactly.
func (b *Book) Snapshot() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]Record, 0, len(b.positions))
	for account, pos := range b.positions {
		records = append(records, Record{
			Account:     account,
			Collateral:  pos.Collateral,
			Debt:        pos.Debt,
			LastUpdated: pos.LastUpdated,
		})
	}
	return records
}

// Restore loads positions from a snapshot, replacing any existing record
// for the same account.
func (b *Book) Restore(records []Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range records {
		b.positions[r.Account] = &Position{
			Collateral:  r.Collateral,
			Debt:        r.Debt,
			LastUpdated: r.LastUpdated,
		}
	}
}
