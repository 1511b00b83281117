package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// ErrInsufficientBalance is returned when a pull exceeds the payer's balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// MemoryBank implements domain.ValueTransferrer with in-process balances.
// It backs dev mode and tests where no chain is available. Pulls debit the
// payer and credit an internal escrow balance; pushes do the reverse.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[domain.Account]*big.Int
	escrow   *big.Int
}

// NewMemoryBank returns an empty bank. Seed balances with Mint before use.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[domain.Account]*big.Int),
		escrow:   new(big.Int),
	}
}

// Mint credits amount to acct out of thin air.
func (b *MemoryBank) Mint(acct domain.Account, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(acct, amount)
}

// Balance returns a copy of acct's current balance.
func (b *MemoryBank) Balance(acct domain.Account) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[acct]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// EscrowBalance returns a copy of the internal escrow balance.
func (b *MemoryBank) EscrowBalance() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.escrow)
}

// PullFrom debits payer and credits escrow.
func (b *MemoryBank) PullFrom(_ context.Context, payer domain.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: invalid pull amount %v", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[payer]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: pull %s from %s: %w", amount, payer.Hex(), ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	b.escrow.Add(b.escrow, amount)
	return nil
}

// PushTo debits escrow and credits recipient.
func (b *MemoryBank) PushTo(_ context.Context, recipient domain.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: invalid push amount %v", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.escrow.Cmp(amount) < 0 {
		return fmt.Errorf("token: push %s to %s: escrow %w", amount, recipient.Hex(), ErrInsufficientBalance)
	}
	b.escrow.Sub(b.escrow, amount)
	b.credit(recipient, amount)
	return nil
}

// credit assumes the lock is held.
func (b *MemoryBank) credit(acct domain.Account, amount *big.Int) {
	bal, ok := b.balances[acct]
	if !ok {
		bal = new(big.Int)
		b.balances[acct] = bal
	}
	bal.Add(bal, amount)
}
