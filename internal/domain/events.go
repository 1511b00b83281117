package domain

import (
	"math/big"
	"time"
)

// Event type tags used in the journal, on the signal bus, and for
// notification filtering.
const (
	EventTypePoolCreated  = "pool_created"
	EventTypeBetPlaced    = "bet_placed"
	EventTypePoolResolved = "pool_resolved"
)

// PoolCreated is emitted once when the manager constructs a new pool.
type PoolCreated struct {
	PoolID    int64     `json:"pool_id"`
	Feed      FeedRef   `json:"feed"`
	Threshold *big.Int  `json:"threshold"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
}

// BetPlaced is emitted once per accepted bet. Gross amounts left the
// bettor's balance; net amounts were credited to the ledger.
type BetPlaced struct {
	PoolID     int64     `json:"pool_id"`
	Account    Account   `json:"account"`
	GrossAbove *big.Int  `json:"gross_above"`
	GrossBelow *big.Int  `json:"gross_below"`
	NetAbove   *big.Int  `json:"net_above"`
	NetBelow   *big.Int  `json:"net_below"`
	PlacedAt   time.Time `json:"placed_at"`
}

// PoolResolved is emitted exactly once per pool, as part of the atomic
// resolution. Payouts carry enough detail to reconstruct settlement
// independently of the engine.
type PoolResolved struct {
	PoolID        int64     `json:"pool_id"`
	Outcome       Outcome   `json:"outcome"`
	ObservedValue *big.Int  `json:"observed_value"`
	ObservedAt    time.Time `json:"observed_at"`
	TotalAbove    *big.Int  `json:"total_above"`
	TotalBelow    *big.Int  `json:"total_below"`
	Payouts       []Payment `json:"payouts"`
	ResolvedAt    time.Time `json:"resolved_at"`
}
