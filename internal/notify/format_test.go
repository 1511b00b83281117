package notify

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

func TestFormatPoolCreated(t *testing.T) {
	ev := domain.PoolCreated{
		PoolID:    3,
		Feed:      common.BigToAddress(big.NewInt(0xF0)),
		Threshold: big.NewInt(4_000),
		Deadline:  time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC),
	}

	title, msg := FormatPoolCreated(ev)
	if !strings.Contains(title, "#3") {
		t.Errorf("title %q missing pool id", title)
	}
	if !strings.Contains(msg, "4000") || !strings.Contains(msg, "2026-04-01") {
		t.Errorf("message %q missing threshold or deadline", msg)
	}
}

func TestFormatPoolResolved(t *testing.T) {
	base := domain.PoolResolved{
		PoolID:        7,
		Outcome:       domain.OutcomeAbove,
		ObservedValue: big.NewInt(4_500),
		ObservedAt:    time.Date(2026, 4, 1, 18, 5, 0, 0, time.UTC),
		TotalAbove:    big.NewInt(100),
		TotalBelow:    big.NewInt(200),
	}

	t.Run("no payouts", func(t *testing.T) {
		_, msg := FormatPoolResolved(base)
		if !strings.Contains(msg, "No payouts") {
			t.Errorf("message %q", msg)
		}
	})

	t.Run("many payouts are capped", func(t *testing.T) {
		ev := base
		for i := int64(1); i <= 15; i++ {
			ev.Payouts = append(ev.Payouts, domain.Payment{
				To:     common.BigToAddress(big.NewInt(i)),
				Amount: big.NewInt(i * 10),
			})
		}

		title, msg := FormatPoolResolved(ev)
		if !strings.Contains(title, "above") {
			t.Errorf("title %q missing outcome", title)
		}
		if !strings.Contains(msg, "15 payouts") {
			t.Errorf("message %q missing payout count", msg)
		}
		if !strings.Contains(msg, "and 5 more") {
			t.Errorf("message %q not capped", msg)
		}
	})
}
