// Package engine implements the escrow/settlement core of OrcBet: the pool
// manager, the per-pool bet ledger and lifecycle, and the pari-mutuel payout
// calculator. All value movement goes through the domain ports; the engine
// itself holds no balances.
package engine

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// ComputePayouts derives the settlement transfers for a pool from its final
// ledger and outcome. It is a pure function: the ledger is never mutated and
// the same inputs always produce the same payments, in the same order
// (ascending account address).
//
// Tie: every account is refunded exactly its own recorded net stakes.
//
// Win: each winner i with stake s_i out of winning total W receives
// s_i + L*s_i/W where L is the losing side's total. Integer division
// remainders are assigned largest-remainder-first (ties broken by ascending
// address), so the sum of all payments equals W+L exactly.
//
// If the winning side has no stake (W == 0) both sides are refunded, the
// same as a tie; nothing is retained.
func ComputePayouts(outcome domain.Outcome, stakes map[domain.Account]domain.Stake) []domain.Payment {
	accounts := sortedAccounts(stakes)

	if outcome == domain.OutcomeTie {
		return refundAll(accounts, stakes)
	}

	pick := func(s domain.Stake) (win, lose *big.Int) {
		if outcome == domain.OutcomeAbove {
			return s.Above, s.Below
		}
		return s.Below, s.Above
	}

	winTotal := new(big.Int)
	loseTotal := new(big.Int)
	for _, acct := range accounts {
		win, lose := pick(stakes[acct])
		winTotal.Add(winTotal, nz(win))
		loseTotal.Add(loseTotal, nz(lose))
	}

	if winTotal.Sign() == 0 {
		return refundAll(accounts, stakes)
	}

	type share struct {
		acct      domain.Account
		amount    *big.Int
		remainder *big.Int
	}

	var (
		shares      []share
		distributed = new(big.Int)
	)
	for _, acct := range accounts {
		win, _ := pick(stakes[acct])
		win = nz(win)
		if win.Sign() == 0 {
			continue
		}

		// s_i + floor(L*s_i/W), keeping the division remainder for the
		// largest-remainder pass below.
		prod := new(big.Int).Mul(loseTotal, win)
		quo, rem := new(big.Int).QuoRem(prod, winTotal, new(big.Int))
		amount := new(big.Int).Add(win, quo)

		distributed.Add(distributed, quo)
		shares = append(shares, share{acct: acct, amount: amount, remainder: rem})
	}

	// Hand out the leftover units, one per winner, largest remainder first.
	// The leftover is strictly less than the number of winners.
	leftover := new(big.Int).Sub(loseTotal, distributed)
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].remainder.Cmp(shares[order[b]].remainder) > 0
	})
	one := big.NewInt(1)
	for _, idx := range order {
		if leftover.Sign() <= 0 {
			break
		}
		shares[idx].amount.Add(shares[idx].amount, one)
		leftover.Sub(leftover, one)
	}

	payments := make([]domain.Payment, 0, len(shares))
	for _, sh := range shares {
		payments = append(payments, domain.Payment{To: sh.acct, Amount: sh.amount})
	}
	return payments
}

// refundAll returns each account's own net stakes with no cross-side
// movement.
func refundAll(accounts []domain.Account, stakes map[domain.Account]domain.Stake) []domain.Payment {
	var payments []domain.Payment
	for _, acct := range accounts {
		s := stakes[acct]
		total := new(big.Int).Add(nz(s.Above), nz(s.Below))
		if total.Sign() == 0 {
			continue
		}
		payments = append(payments, domain.Payment{To: acct, Amount: total})
	}
	return payments
}

// sortedAccounts returns the ledger's accounts in ascending address order so
// payout computation is deterministic regardless of map iteration.
func sortedAccounts(stakes map[domain.Account]domain.Stake) []domain.Account {
	accounts := make([]domain.Account, 0, len(stakes))
	for acct := range stakes {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	return accounts
}

// nz treats a nil amount as zero without allocating for the common case.
func nz(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}

var zero = new(big.Int)
