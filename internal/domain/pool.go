// Package domain defines the core types, sentinel errors, and ports of the
// OrcBet betting-pool engine. Concrete adapters (PostgreSQL, Redis, S3,
// Ethereum) implement the interfaces declared here.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account identifies a bettor or protocol actor by Ethereum address.
type Account = common.Address

// FeedRef identifies a price feed (a Chainlink aggregator address).
type FeedRef = common.Address

// MaxFeeBasisPoints is the upper bound for the protocol fee (100%).
const MaxFeeBasisPoints = 10_000

// Outcome tags the result of a resolved pool.
type Outcome string

const (
	OutcomeAbove Outcome = "above"
	OutcomeBelow Outcome = "below"
	OutcomeTie   Outcome = "tie"
)

// Stake holds one account's accumulated net stakes on each side of a pool.
// Amounts are net of the protocol fee taken at bet time.
type Stake struct {
	Above *big.Int
	Below *big.Int
}

// Payment is a single outbound transfer produced by settlement.
type Payment struct {
	To     Account  `json:"to"`
	Amount *big.Int `json:"amount"`
}

// Observation is a timestamped value reported by a price oracle.
type Observation struct {
	Value      *big.Int
	ObservedAt time.Time
}

// PoolInfo is a point-in-time snapshot of a pool, safe to share outside the
// engine's critical section.
type PoolInfo struct {
	ID         int64
	Feed       FeedRef
	Threshold  *big.Int
	Deadline   time.Time
	Active     bool
	TotalAbove *big.Int
	TotalBelow *big.Int
	Bettors    int
	CreatedAt  time.Time
}
