package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PoolRecord is the persisted form of a pool. Resolution fields are nil
// until the pool is resolved.
type PoolRecord struct {
	ID            int64
	Feed          FeedRef
	Threshold     *big.Int
	Deadline      time.Time
	Active        bool
	TotalAbove    *big.Int
	TotalBelow    *big.Int
	Outcome       Outcome
	ObservedValue *big.Int
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// BetRecord is one accepted bet. Bets are append-only; an account's ledger
// stake is the sum of its bet records for a pool.
type BetRecord struct {
	PoolID     int64
	Account    Account
	GrossAbove *big.Int
	GrossBelow *big.Int
	NetAbove   *big.Int
	NetBelow   *big.Int
	PlacedAt   time.Time
}

// PayoutRecord is one settlement transfer for a resolved pool.
type PayoutRecord struct {
	PoolID  int64
	Account Account
	Amount  *big.Int
}

// PoolStore persists pools, their append-only bet ledger, and settlement
// payouts. It is the source for engine rehydration after a restart.
type PoolStore interface {
	InsertPool(ctx context.Context, pool PoolRecord) error
	InsertBet(ctx context.Context, bet BetRecord) error
	MarkResolved(ctx context.Context, id int64, outcome Outcome, observed *big.Int, resolvedAt time.Time, payouts []PayoutRecord) error
	GetPool(ctx context.Context, id int64) (PoolRecord, error)
	ListPools(ctx context.Context, opts ListOpts) ([]PoolRecord, error)
	ListBets(ctx context.Context, poolID int64) ([]BetRecord, error)
	ListPayouts(ctx context.Context, poolID int64) ([]PayoutRecord, error)
}

// EventRecord is a single journal entry. Payload is the JSON encoding of
// one of the event structs in events.go.
type EventRecord struct {
	ID        string
	Type      string
	PoolID    int64
	Payload   []byte
	CreatedAt time.Time
}

// EventStore persists the append-only event journal.
type EventStore interface {
	Append(ctx context.Context, ev EventRecord) error
	ListByPool(ctx context.Context, poolID int64, opts ListOpts) ([]EventRecord, error)
}
