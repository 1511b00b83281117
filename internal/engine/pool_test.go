package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

func TestAddBetFeeAccounting(t *testing.T) {
	env := newTestEnv(t, 100, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	bettor := addr(1)
	ev, err := pool.AddBet(ctx, bettor, amt(10_000_000_000), amt(10_000_000_000))
	if err != nil {
		t.Fatalf("AddBet: %v", err)
	}

	// 1% fee: net stake per side is 9.9e9.
	wantNet := amt(9_900_000_000)
	if ev.NetAbove.Cmp(wantNet) != 0 || ev.NetBelow.Cmp(wantNet) != 0 {
		t.Errorf("net stakes = %s/%s, want %s each", ev.NetAbove, ev.NetBelow, wantNet)
	}

	// The gross amount left the bettor.
	if len(env.token.pulls) != 1 {
		t.Fatalf("pulls = %d, want 1", len(env.token.pulls))
	}
	if got, want := env.token.pulls[0].amount, amt(20_000_000_000); got.Cmp(want) != 0 {
		t.Errorf("pulled %s, want %s", got, want)
	}

	snap := pool.Snapshot()
	if snap.TotalAbove.Cmp(wantNet) != 0 || snap.TotalBelow.Cmp(wantNet) != 0 {
		t.Errorf("totals = %s/%s, want %s each", snap.TotalAbove, snap.TotalBelow, wantNet)
	}
}

func TestAddBetAccumulates(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	bettor := addr(1)
	for i := 0; i < 3; i++ {
		if _, err := pool.AddBet(ctx, bettor, amt(100), amt(50)); err != nil {
			t.Fatalf("AddBet %d: %v", i, err)
		}
	}

	s := pool.Stake(bettor)
	if s.Above.Cmp(amt(300)) != 0 || s.Below.Cmp(amt(150)) != 0 {
		t.Errorf("stake = %s/%s, want 300/150", s.Above, s.Below)
	}
	if snap := pool.Snapshot(); snap.Bettors != 1 {
		t.Errorf("bettors = %d, want 1", snap.Bettors)
	}
}

func TestAddBetValidation(t *testing.T) {
	env := newTestEnv(t, 100, 1_000)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	tests := []struct {
		name         string
		above, below int64
		wantErr      error
	}{
		{"below minimum", 400, 400, domain.ErrBelowMinimumStake},
		{"zero bet", 0, 0, domain.ErrBelowMinimumStake},
		{"negative amount", -2_000, 4_000, domain.ErrBelowMinimumStake},
		{"exactly minimum", 500, 500, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pool.AddBet(ctx, addr(1), amt(tt.above), amt(tt.below))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddBet = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddBetTransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, 100, 1)
	pool := env.openPool(t, 4_000)
	env.token.failPull = true

	_, err := pool.AddBet(context.Background(), addr(1), amt(500), amt(500))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("AddBet = %v, want ErrTransferFailed", err)
	}

	snap := pool.Snapshot()
	if snap.TotalAbove.Sign() != 0 || snap.TotalBelow.Sign() != 0 || snap.Bettors != 0 {
		t.Errorf("ledger mutated after failed pull: %+v", snap)
	}
}

func TestCanResolve(t *testing.T) {
	env := newTestEnv(t, 100, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	if pool.CanResolve(ctx) {
		t.Error("resolvable before deadline")
	}

	// Past the deadline but the only observation is stale.
	env.clock.Advance(2 * time.Hour)
	env.oracle.set(amt(5_000), pool.Deadline().Add(-time.Minute))
	if pool.CanResolve(ctx) {
		t.Error("resolvable with stale observation")
	}

	env.oracle.set(amt(5_000), pool.Deadline().Add(time.Minute))
	if !pool.CanResolve(ctx) {
		t.Error("not resolvable with fresh observation past deadline")
	}

	// Predicate is repeatable and side-effect free.
	if !pool.CanResolve(ctx) || !pool.CanResolve(ctx) {
		t.Error("predicate not stable across calls")
	}
}

func TestFinishAboveWins(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	winner, loser := addr(1), addr(2)
	mustBet(t, pool, winner, 10_000_000_000, 0)
	mustBet(t, pool, loser, 0, 10_000_000_000)

	env.settleAt(pool, 4_500)
	ev, err := pool.Finish(ctx, env.keeper)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if ev.Outcome != domain.OutcomeAbove {
		t.Errorf("outcome = %s, want above", ev.Outcome)
	}
	if got := env.token.pushedTo(winner); got.Cmp(amt(20_000_000_000)) != 0 {
		t.Errorf("winner received %s, want 20e9", got)
	}
	if got := env.token.pushedTo(loser); got.Sign() != 0 {
		t.Errorf("loser received %s, want 0", got)
	}
	if pool.Snapshot().Active {
		t.Error("pool still active after Finish")
	}
}

func TestFinishTieRefunds(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	a, b := addr(1), addr(2)
	mustBet(t, pool, a, 10_000_000_000, 0)
	mustBet(t, pool, b, 0, 10_000_000_000)

	env.settleAt(pool, 4_000) // exactly the threshold
	ev, err := pool.Finish(ctx, env.keeper)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if ev.Outcome != domain.OutcomeTie {
		t.Errorf("outcome = %s, want tie", ev.Outcome)
	}
	for _, acct := range []domain.Account{a, b} {
		if got := env.token.pushedTo(acct); got.Cmp(amt(10_000_000_000)) != 0 {
			t.Errorf("%s refunded %s, want exactly 10e9", acct.Hex(), got)
		}
	}
}

func TestFinishProportionalDistribution(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	mustBet(t, pool, addr(1), 10_000_000_000, 0)
	mustBet(t, pool, addr(2), 20_000_000_000, 0)
	mustBet(t, pool, addr(3), 0, 10_000_000_000)
	mustBet(t, pool, addr(4), 0, 30_000_000_000)

	env.settleAt(pool, 9_999)
	if _, err := pool.Finish(ctx, env.keeper); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if got := env.token.pushedTo(addr(1)); got.Cmp(amt(23_333_333_333)) != 0 {
		t.Errorf("addr1 received %s, want 23_333_333_333", got)
	}
	if got := env.token.pushedTo(addr(2)); got.Cmp(amt(46_666_666_667)) != 0 {
		t.Errorf("addr2 received %s, want 46_666_666_667", got)
	}
	if got := env.token.pushedTotal(); got.Cmp(amt(70_000_000_000)) != 0 {
		t.Errorf("total distributed %s, want 70e9", got)
	}
}

func TestFinishGuards(t *testing.T) {
	t.Run("unauthorized caller", func(t *testing.T) {
		env := newTestEnv(t, 100, 1)
		pool := env.openPool(t, 4_000)
		env.settleAt(pool, 5_000)

		if _, err := pool.Finish(context.Background(), addr(0xEE)); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Finish = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("before deadline", func(t *testing.T) {
		env := newTestEnv(t, 100, 1)
		pool := env.openPool(t, 4_000)

		if _, err := pool.Finish(context.Background(), env.keeper); !errors.Is(err, domain.ErrPoolNotReady) {
			t.Errorf("Finish = %v, want ErrPoolNotReady", err)
		}
	})

	t.Run("stale observation", func(t *testing.T) {
		env := newTestEnv(t, 100, 1)
		pool := env.openPool(t, 4_000)
		env.clock.Advance(2 * time.Hour)
		env.oracle.set(amt(5_000), pool.Deadline().Add(-time.Second))

		if _, err := pool.Finish(context.Background(), env.keeper); !errors.Is(err, domain.ErrPoolNotReady) {
			t.Errorf("Finish = %v, want ErrPoolNotReady", err)
		}
	})

	t.Run("oracle down", func(t *testing.T) {
		env := newTestEnv(t, 100, 1)
		pool := env.openPool(t, 4_000)
		env.clock.Advance(2 * time.Hour)
		env.oracle.err = errors.New("feed offline")

		if _, err := pool.Finish(context.Background(), env.keeper); !errors.Is(err, domain.ErrOracleUnavailable) {
			t.Errorf("Finish = %v, want ErrOracleUnavailable", err)
		}
	})
}

func TestFinishExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	mustBet(t, pool, addr(1), 1_000, 0)
	mustBet(t, pool, addr(2), 0, 1_000)
	env.settleAt(pool, 5_000)

	if _, err := pool.Finish(ctx, env.keeper); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	pushesAfterFirst := len(env.token.pushes)

	if _, err := pool.Finish(ctx, env.keeper); !errors.Is(err, domain.ErrPoolNotActive) {
		t.Fatalf("second Finish = %v, want ErrPoolNotActive", err)
	}
	if len(env.token.pushes) != pushesAfterFirst {
		t.Error("second Finish moved value")
	}

	// Bets after resolution are rejected.
	if _, err := pool.AddBet(ctx, addr(3), amt(1_000), nil); !errors.Is(err, domain.ErrPoolNotActive) {
		t.Errorf("AddBet after Finish = %v, want ErrPoolNotActive", err)
	}
}

func TestFinishPushFailureKeepsPoolActive(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	mustBet(t, pool, addr(1), 1_000, 0)
	mustBet(t, pool, addr(2), 0, 3_000)
	env.settleAt(pool, 5_000)

	env.token.failPushAfter = 0
	if _, err := pool.Finish(ctx, env.keeper); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Finish = %v, want ErrTransferFailed", err)
	}
	if !pool.Snapshot().Active {
		t.Fatal("pool resolved despite failed disbursement")
	}

	// The resolver retries once the transfer path recovers.
	env.token.failPushAfter = -1
	if _, err := pool.Finish(ctx, env.keeper); err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	if got := env.token.pushedTo(addr(1)); got.Cmp(amt(4_000)) != 0 {
		t.Errorf("winner received %s, want 4_000", got)
	}
}

func TestFinishRetryResumesUnpaidPayouts(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	// Two winners entitled to 2_000 each out of the 4_000 the pool holds.
	mustBet(t, pool, addr(1), 1_000, 0)
	mustBet(t, pool, addr(2), 1_000, 0)
	mustBet(t, pool, addr(3), 0, 2_000)
	env.settleAt(pool, 5_000)

	// The first winner is paid, then the transfer path goes down.
	env.token.failPushAfter = 1
	if _, err := pool.Finish(ctx, env.keeper); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Finish = %v, want ErrTransferFailed", err)
	}
	if !pool.Snapshot().Active {
		t.Fatal("pool resolved despite failed disbursement")
	}

	// A pool mid-disbursement accepts no further stakes.
	if _, err := pool.AddBet(ctx, addr(4), amt(1_000), nil); !errors.Is(err, domain.ErrPoolNotActive) {
		t.Fatalf("AddBet mid-disbursement = %v, want ErrPoolNotActive", err)
	}

	env.token.failPushAfter = -1
	ev, err := pool.Finish(ctx, env.keeper)
	if err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	if ev.Outcome != domain.OutcomeAbove {
		t.Errorf("outcome = %s, want %s", ev.Outcome, domain.OutcomeAbove)
	}
	if pool.Snapshot().Active {
		t.Error("pool still active after successful retry")
	}

	// Across both attempts each winner receives exactly its entitlement and
	// the disbursed total matches the pool balance.
	for _, winner := range []domain.Account{addr(1), addr(2)} {
		if got := env.token.pushedTo(winner); got.Cmp(amt(2_000)) != 0 {
			t.Errorf("%s received %s across retries, want exactly 2_000", winner.Hex(), got)
		}
	}
	if got := env.token.pushedTotal(); got.Cmp(amt(4_000)) != 0 {
		t.Errorf("total disbursed %s, want 4_000", got)
	}
}

func TestAddBetConcurrent(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	const (
		goroutines = 16
		betsEach   = 25
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			bettor := addr(int64(g + 1))
			for i := 0; i < betsEach; i++ {
				if _, err := pool.AddBet(ctx, bettor, amt(3), amt(2)); err != nil {
					t.Errorf("AddBet: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	snap := pool.Snapshot()
	wantAbove := amt(3 * goroutines * betsEach)
	wantBelow := amt(2 * goroutines * betsEach)
	if snap.TotalAbove.Cmp(wantAbove) != 0 || snap.TotalBelow.Cmp(wantBelow) != 0 {
		t.Errorf("totals = %s/%s, want %s/%s",
			snap.TotalAbove, snap.TotalBelow, wantAbove, wantBelow)
	}

	// Totals must equal the ledger sums.
	sumAbove, sumBelow := new(big.Int), new(big.Int)
	for g := 0; g < goroutines; g++ {
		s := pool.Stake(addr(int64(g + 1)))
		sumAbove.Add(sumAbove, s.Above)
		sumBelow.Add(sumBelow, s.Below)
	}
	if sumAbove.Cmp(snap.TotalAbove) != 0 || sumBelow.Cmp(snap.TotalBelow) != 0 {
		t.Errorf("ledger sums %s/%s diverge from totals %s/%s",
			sumAbove, sumBelow, snap.TotalAbove, snap.TotalBelow)
	}
}

func TestConcurrentBetAndFinish(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	pool := env.openPool(t, 4_000)
	ctx := context.Background()

	mustBet(t, pool, addr(1), 1_000, 0)
	mustBet(t, pool, addr(2), 0, 1_000)
	env.settleAt(pool, 5_000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			if g%2 == 0 {
				// Either accepted while open or rejected after resolution;
				// nothing in between.
				_, err := pool.AddBet(ctx, addr(int64(100+g)), amt(10), nil)
				if err != nil && !errors.Is(err, domain.ErrPoolNotActive) {
					t.Errorf("AddBet: %v", err)
				}
			} else {
				_, err := pool.Finish(ctx, env.keeper)
				if err != nil && !errors.Is(err, domain.ErrPoolNotActive) {
					t.Errorf("Finish: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	if pool.Snapshot().Active {
		t.Error("pool never resolved")
	}
}

func mustBet(t *testing.T, pool *Pool, bettor domain.Account, above, below int64) {
	t.Helper()
	if _, err := pool.AddBet(context.Background(), bettor, amt(above), amt(below)); err != nil {
		t.Fatalf("AddBet(%s): %v", bettor.Hex(), err)
	}
}
