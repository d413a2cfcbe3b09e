// Package ledger defines the asset ledger contract the bridge relies on.
// The base token bookkeeping itself is an external collaborator; the bridge
// only needs burn, mint, lock and release and trusts their atomicity.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
)

// Ledger is the narrow surface the bridge uses to mutate the local asset.
type Ledger interface {
	Mint(ctx context.Context, account string, amount decimal.Decimal) error
	Burn(ctx context.Context, account string, amount decimal.Decimal) error
	Lock(ctx context.Context, account string, amount decimal.Decimal) error
	Release(ctx context.Context, account string, amount decimal.Decimal) error

	BalanceOf(account string) decimal.Decimal
	TotalSupply() decimal.Decimal
	LockedSupply() decimal.Decimal
}

// InMemory is a process-local Ledger used for single-node deployments and
// tests. All mutations run under one lock so each call is atomic relative to
// every other.
type InMemory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	total    decimal.Decimal
	locked   decimal.Decimal
}

// NewInMemory creates an empty in-memory ledger
func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[string]decimal.Decimal)}
}

// Mint creates amount units on account
func (l *InMemory) Mint(_ context.Context, account string, amount decimal.Decimal) error {
	if err := checkAmount(account, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
	l.total = l.total.Add(amount)
	return nil
}

// Burn destroys amount units held by account
func (l *InMemory) Burn(_ context.Context, account string, amount decimal.Decimal) error {
	if err := checkAmount(account, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account].LessThan(amount) {
		return apperrors.BadRequestError(
			fmt.Errorf("burn %s exceeds balance %s of %s", amount, l.balances[account], account),
			"insufficient balance")
	}
	l.balances[account] = l.balances[account].Sub(amount)
	l.total = l.total.Sub(amount)
	return nil
}

// Lock moves amount units from account into the escrow pool
func (l *InMemory) Lock(_ context.Context, account string, amount decimal.Decimal) error {
	if err := checkAmount(account, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account].LessThan(amount) {
		return apperrors.BadRequestError(
			fmt.Errorf("lock %s exceeds balance %s of %s", amount, l.balances[account], account),
			"insufficient balance")
	}
	l.balances[account] = l.balances[account].Sub(amount)
	l.locked = l.locked.Add(amount)
	return nil
}

// Release moves amount units from the escrow pool to account
func (l *InMemory) Release(_ context.Context, account string, amount decimal.Decimal) error {
	if err := checkAmount(account, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked.LessThan(amount) {
		return apperrors.BadRequestError(
			fmt.Errorf("release %s exceeds escrow %s", amount, l.locked),
			"insufficient escrow")
	}
	l.locked = l.locked.Sub(amount)
	l.balances[account] = l.balances[account].Add(amount)
	return nil
}

// BalanceOf returns the spendable balance of account
func (l *InMemory) BalanceOf(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// TotalSupply returns the total minted supply. Escrowed funds stay in the
// total; LockedSupply tracks them separately.
func (l *InMemory) TotalSupply() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// LockedSupply returns the escrowed amount
func (l *InMemory) LockedSupply() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func checkAmount(account string, amount decimal.Decimal) error {
	if account == "" {
		return apperrors.BadRequestError(nil, "empty account")
	}
	if !amount.IsPositive() {
		return apperrors.BadRequestError(
			fmt.Errorf("non-positive amount %s", amount), "amount must be positive")
	}
	return nil
}
