package engine

import (
	"math/big"
	"testing"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

func stake(above, below int64) domain.Stake {
	return domain.Stake{Above: big.NewInt(above), Below: big.NewInt(below)}
}

func paymentMap(payments []domain.Payment) map[domain.Account]*big.Int {
	out := make(map[domain.Account]*big.Int, len(payments))
	for _, p := range payments {
		out[p.To] = p.Amount
	}
	return out
}

func TestComputePayouts(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.Outcome
		stakes  map[domain.Account]domain.Stake
		want    map[domain.Account]int64
	}{
		{
			name:    "tie refunds own stakes",
			outcome: domain.OutcomeTie,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(10_000_000_000, 0),
				addr(2): stake(0, 10_000_000_000),
			},
			want: map[domain.Account]int64{
				addr(1): 10_000_000_000,
				addr(2): 10_000_000_000,
			},
		},
		{
			name:    "above wins takes losing side",
			outcome: domain.OutcomeAbove,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(10_000_000_000, 0),
				addr(2): stake(0, 10_000_000_000),
			},
			want: map[domain.Account]int64{
				addr(1): 20_000_000_000,
			},
		},
		{
			name:    "proportional split with remainder",
			outcome: domain.OutcomeAbove,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(10_000_000_000, 0),
				addr(2): stake(20_000_000_000, 0),
				addr(3): stake(0, 10_000_000_000),
				addr(4): stake(0, 30_000_000_000),
			},
			// Loser pool 40e9 split 1:2; the one-unit remainder goes to
			// the larger fractional part (addr 2).
			want: map[domain.Account]int64{
				addr(1): 23_333_333_333,
				addr(2): 46_666_666_667,
			},
		},
		{
			name:    "below wins symmetric",
			outcome: domain.OutcomeBelow,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(9_000, 0),
				addr(2): stake(0, 1_000),
				addr(3): stake(0, 2_000),
			},
			want: map[domain.Account]int64{
				addr(2): 4_000,
				addr(3): 8_000,
			},
		},
		{
			name:    "no winners refunds both sides",
			outcome: domain.OutcomeAbove,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(0, 5_000),
				addr(2): stake(0, 7_000),
			},
			want: map[domain.Account]int64{
				addr(1): 5_000,
				addr(2): 7_000,
			},
		},
		{
			name:    "both-side bettor refunded once on tie",
			outcome: domain.OutcomeTie,
			stakes: map[domain.Account]domain.Stake{
				addr(1): stake(1_500, 2_500),
			},
			want: map[domain.Account]int64{
				addr(1): 4_000,
			},
		},
		{
			name:    "empty ledger yields no payments",
			outcome: domain.OutcomeAbove,
			stakes:  map[domain.Account]domain.Stake{},
			want:    map[domain.Account]int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paymentMap(ComputePayouts(tt.outcome, tt.stakes))

			if len(got) != len(tt.want) {
				t.Fatalf("got %d payments, want %d", len(got), len(tt.want))
			}
			for acct, want := range tt.want {
				amount, ok := got[acct]
				if !ok {
					t.Fatalf("missing payment for %s", acct.Hex())
				}
				if amount.Cmp(big.NewInt(want)) != 0 {
					t.Errorf("payment for %s = %s, want %d", acct.Hex(), amount, want)
				}
			}
		})
	}
}

func TestComputePayoutsConservation(t *testing.T) {
	// Awkward stake distributions that force integer-division dust.
	ledgers := []map[domain.Account]domain.Stake{
		{
			addr(1): stake(1, 0),
			addr(2): stake(1, 0),
			addr(3): stake(1, 0),
			addr(4): stake(0, 100),
		},
		{
			addr(1): stake(7, 0),
			addr(2): stake(11, 0),
			addr(3): stake(13, 0),
			addr(4): stake(0, 97),
		},
		{
			addr(1): stake(3, 5),
			addr(2): stake(17, 0),
			addr(3): stake(0, 29),
			addr(4): stake(1_000_000_007, 0),
			addr(5): stake(0, 999_999_937),
		},
	}

	for _, outcome := range []domain.Outcome{domain.OutcomeAbove, domain.OutcomeBelow, domain.OutcomeTie} {
		for i, stakes := range ledgers {
			total := new(big.Int)
			for _, s := range stakes {
				total.Add(total, s.Above)
				total.Add(total, s.Below)
			}

			paid := new(big.Int)
			for _, p := range ComputePayouts(outcome, stakes) {
				if p.Amount.Sign() <= 0 {
					t.Fatalf("ledger %d outcome %s: non-positive payment %s", i, outcome, p.Amount)
				}
				paid.Add(paid, p.Amount)
			}

			if paid.Cmp(total) != 0 {
				t.Errorf("ledger %d outcome %s: paid %s, staked %s", i, outcome, paid, total)
			}
		}
	}
}

func TestComputePayoutsNeverPaysZeroStakeWinner(t *testing.T) {
	stakes := map[domain.Account]domain.Stake{
		addr(1): stake(100, 0),
		addr(2): stake(0, 50),
		addr(3): stake(0, 0),
	}

	for _, p := range ComputePayouts(domain.OutcomeAbove, stakes) {
		if p.To == addr(2) || p.To == addr(3) {
			t.Errorf("unexpected payment to %s: %s", p.To.Hex(), p.Amount)
		}
	}
}

func TestComputePayoutsDeterministicOrder(t *testing.T) {
	stakes := map[domain.Account]domain.Stake{
		addr(9): stake(10, 0),
		addr(3): stake(10, 0),
		addr(6): stake(10, 0),
		addr(1): stake(0, 31),
	}

	first := ComputePayouts(domain.OutcomeAbove, stakes)
	for i := 0; i < 10; i++ {
		again := ComputePayouts(domain.OutcomeAbove, stakes)
		if len(again) != len(first) {
			t.Fatalf("run %d: %d payments, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j].To != first[j].To || again[j].Amount.Cmp(first[j].Amount) != 0 {
				t.Fatalf("run %d: payment %d = %s/%s, want %s/%s",
					i, j, again[j].To.Hex(), again[j].Amount, first[j].To.Hex(), first[j].Amount)
			}
		}
	}
}
