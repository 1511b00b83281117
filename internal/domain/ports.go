package domain

import (
	"context"
	"math/big"
)

// ValueTransferrer moves stake value between accounts and the protocol
// escrow. Both calls are synchronous and fail-fast: any error aborts the
// enclosing engine operation with no partial ledger update.
type ValueTransferrer interface {
	// PullFrom collects amount from payer into escrow.
	PullFrom(ctx context.Context, payer Account, amount *big.Int) error
	// PushTo disburses amount from escrow to recipient.
	PushTo(ctx context.Context, recipient Account, amount *big.Int) error
}

// PriceOracle supplies timestamped numeric observations for a feed. The
// engine only requires the latest observation; locating a specific round is
// the adapter's concern.
type PriceOracle interface {
	Observation(ctx context.Context, feed FeedRef) (Observation, error)
}
