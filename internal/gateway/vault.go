package gateway

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Vault is an in-memory single-asset balance store implementing
// TransferGateway. Each holder has a balance and an allowance granted to
// the vault's custody account; MoveIn consumes allowance the way a token
// transferFrom does, MoveOut spends custody directly.
type Vault struct {
	mu        sync.RWMutex
	asset     Asset
	custody   uuid.UUID
	balances  map[uuid.UUID]int64
	allowance map[uuid.UUID]int64
}

// NewVault creates an empty vault for one asset. custody is the holder
// identity under which the ledger's own funds are kept.
func NewVault(asset Asset, custody uuid.UUID) *Vault {
	return &Vault{
		asset:     asset,
		custody:   custody,
		balances:  make(map[uuid.UUID]int64),
		allowance: make(map[uuid.UUID]int64),
	}
}

// Asset returns the asset this vault stores.
func (v *Vault) Asset() Asset { return v.asset }

// Custody returns the ledger custody holder identity.
func (v *Vault) Custody() uuid.UUID { return v.custody }

// Credit adds amount to a holder's balance. Used to fund accounts and to
// seed ledger custody liquidity; negative amounts are rejected.
func (v *Vault) Credit(holder uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("gateway: credit amount must be non-negative, got %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[holder] += amount
	return nil
}

// Approve authorizes the vault custody to pull up to amount from the
// holder via MoveIn. The grant replaces any previous one.
func (v *Vault) Approve(holder uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("gateway: allowance must be non-negative, got %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowance[holder] = amount
	return nil
}

// Allowance reports the remaining pull authorization for a holder.
func (v *Vault) Allowance(holder uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowance[holder]
}

// MoveIn transfers amount from the holder to custody, consuming allowance.
func (v *Vault) MoveIn(from uuid.UUID, amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[from] < amount {
		return ErrInsufficientBalance
	}
	if v.allowance[from] < amount {
		return ErrInsufficientAllowance
	}

	v.allowance[from] -= amount
	v.balances[from] -= amount
	v.balances[v.custody] += amount
	return nil
}

// MoveOut transfers amount from custody to the holder.
func (v *Vault) MoveOut(to uuid.UUID, amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[v.custody] < amount {
		// Callers check liquidity first; this guards against misuse.
		return ErrInsufficientBalance
	}

	v.balances[v.custody] -= amount
	v.balances[to] += amount
	return nil
}

// BalanceOf reports the holder's balance.
func (v *Vault) BalanceOf(holder uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[holder]
}

// Snapshot returns a copy of all balances, for persistence and debugging.
func (v *Vault) Snapshot() map[uuid.UUID]int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := make(map[uuid.UUID]int64, len(v.balances))
	for k, b := range v.balances {
		snap[k] = b
	}
	return snap
}

// Restore overwrites a holder's balance, used when loading a snapshot.
func (v *Vault) Restore(holder uuid.UUID, balance int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[holder] = balance
}
