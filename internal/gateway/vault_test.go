package gateway_test

import (
	"LendLedger/internal/gateway"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestVault_InitialBalanceZero(t *testing.T) {
	v := gateway.NewVault(gateway.AssetCollateral, uuid.New())
	if got := v.BalanceOf(uuid.New()); got != 0 {
		t.Errorf("fresh holder balance: got %d, want 0", got)
	}
}

func TestVault_MoveIn(t *testing.T) {
	custody := uuid.New()
	holder := uuid.New()
	v := gateway.NewVault(gateway.AssetCollateral, custody)

	if err := v.Credit(holder, 1_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Approve(holder, 1_000); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := v.MoveIn(holder, 600); err != nil {
		t.Fatalf("move in: %v", err)
	}

	if got := v.BalanceOf(holder); got != 400 {
		t.Errorf("holder balance after move in: got %d, want 400", got)
	}
	if got := v.BalanceOf(custody); got != 600 {
		t.Errorf("custody balance after move in: got %d, want 600", got)
	}
	if got := v.Allowance(holder); got != 400 {
		t.Errorf("allowance after move in: got %d, want 400", got)
	}
}

func TestVault_MoveIn_InsufficientBalance(t *testing.T) {
	holder := uuid.New()
	v := gateway.NewVault(gateway.AssetLoan, uuid.New())

	v.Credit(holder, 100)
	v.Approve(holder, 1_000)

	err := v.MoveIn(holder, 101)
	if !errors.Is(err, gateway.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := v.BalanceOf(holder); got != 100 {
		t.Errorf("failed move must not touch balances, got %d", got)
	}
}

func TestVault_MoveIn_InsufficientAllowance(t *testing.T) {
	holder := uuid.New()
	v := gateway.NewVault(gateway.AssetLoan, uuid.New())

	v.Credit(holder, 1_000)
	v.Approve(holder, 50)

	err := v.MoveIn(holder, 51)
	if !errors.Is(err, gateway.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := v.Allowance(holder); got != 50 {
		t.Errorf("failed move must not consume allowance, got %d", got)
	}
}

func TestVault_MoveOut(t *testing.T) {
	custody := uuid.New()
	holder := uuid.New()
	v := gateway.NewVault(gateway.AssetLoan, custody)

	v.Credit(custody, 500)

	if err := v.MoveOut(holder, 500); err != nil {
		t.Fatalf("move out: %v", err)
	}
	if got := v.BalanceOf(holder); got != 500 {
		t.Errorf("holder balance after move out: got %d, want 500", got)
	}
	if got := v.BalanceOf(custody); got != 0 {
		t.Errorf("custody balance after move out: got %d, want 0", got)
	}
}

func TestVault_SnapshotIsolated(t *testing.T) {
	holder := uuid.New()
	v := gateway.NewVault(gateway.AssetCollateral, uuid.New())
	v.Credit(holder, 999)

	snap := v.Snapshot()
	snap[holder] = 0

	if got := v.BalanceOf(holder); got != 999 {
		t.Errorf("snapshot mutation must not affect vault, got %d", got)
	}
}

func TestVault_CreditRejectsNegative(t *testing.T) {
	v := gateway.NewVault(gateway.AssetCollateral, uuid.New())
	if err := v.Credit(uuid.New(), -1); err == nil {
		t.Error("negative credit should fail")
	}
}
