// Package gateway defines the transfer capability the ledger uses to move
// asset balances between accounts and its own custody, plus an in-memory
// vault implementation of that capability.
package gateway

import (
	"errors"

	"github.com/google/uuid"
)

// Transfer failures surfaced verbatim to ledger callers.
var (
	ErrInsufficientBalance   = errors.New("gateway: insufficient balance")
	ErrInsufficientAllowance = errors.New("gateway: insufficient allowance")
)

// Asset identifies which of the two facility assets a gateway instance
// moves. The collateral and loan assets are independent stores; the ledger
// holds one TransferGateway per asset and never assumes they share state.
type Asset uint8

const (
	AssetCollateral Asset = iota + 1
	AssetLoan
)

func (a Asset) String() string {
	switch a {
	case AssetCollateral:
		return "collateral"
	case AssetLoan:
		return "loan"
	default:
		return "unknown"
	}
}

// TransferGateway moves one asset between holders and reports balances.
// The ledger consumes this capability; it does not implement it.
type TransferGateway interface {
	// MoveIn pulls amount from the holder into ledger custody. Fails with
	// ErrInsufficientBalance or ErrInsufficientAllowance when the holder
	// cannot fund or has not authorized the move.
	MoveIn(from uuid.UUID, amount int64) error

	// MoveOut pushes amount from ledger custody to the holder. The caller
	// checks custody liquidity before invoking it.
	MoveOut(to uuid.UUID, amount int64) error

	// BalanceOf reports the holder's balance of this asset.
	BalanceOf(holder uuid.UUID) int64
}
