package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// FormatPoolCreated renders a pool-creation announcement.
func FormatPoolCreated(ev domain.PoolCreated) (title, message string) {
	title = fmt.Sprintf("Pool #%d opened", ev.PoolID)
	message = fmt.Sprintf(
		"Feed %s\nThreshold %s\nBetting closes %s",
		ev.Feed.Hex(),
		ev.Threshold,
		ev.Deadline.Format("2006-01-02 15:04 MST"),
	)
	return title, message
}

// FormatPoolResolved renders a settlement announcement with the payout list.
func FormatPoolResolved(ev domain.PoolResolved) (title, message string) {
	title = fmt.Sprintf("Pool #%d resolved: %s", ev.PoolID, ev.Outcome)

	var b strings.Builder
	fmt.Fprintf(&b, "Observed %s at %s\n", ev.ObservedValue, ev.ObservedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Totals: above %s / below %s\n", ev.TotalAbove, ev.TotalBelow)

	switch len(ev.Payouts) {
	case 0:
		b.WriteString("No payouts")
	case 1:
		fmt.Fprintf(&b, "1 payout: %s to %s", ev.Payouts[0].Amount, shortAddr(ev.Payouts[0].To))
	default:
		fmt.Fprintf(&b, "%d payouts", len(ev.Payouts))
		for i, p := range ev.Payouts {
			if i == maxListedPayouts {
				fmt.Fprintf(&b, "\n… and %d more", len(ev.Payouts)-maxListedPayouts)
				break
			}
			fmt.Fprintf(&b, "\n%s to %s", p.Amount, shortAddr(p.To))
		}
	}
	return title, b.String()
}

// maxListedPayouts caps the per-message payout list so large pools do not
// overflow channel message limits.
const maxListedPayouts = 10

func shortAddr(a domain.Account) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}
