package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// Pool is one escrow instance for a single binary market. It owns the bet
// ledger and side totals and enforces the Open -> Resolved one-way
// lifecycle. All mutations serialize on the pool's mutex; Finish holds the
// mutex for the whole resolution so a concurrent AddBet either lands before
// the transition or is rejected with ErrPoolNotActive, never in between.
type Pool struct {
	id        int64
	feed      domain.FeedRef
	threshold *big.Int
	deadline  time.Time
	createdAt time.Time

	feeBps   int
	minStake *big.Int
	resolver domain.Account

	token  domain.ValueTransferrer
	oracle domain.PriceOracle
	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	active     bool
	totalAbove *big.Int
	totalBelow *big.Int
	stakes     map[domain.Account]*domain.Stake
	pending    *settlement
}

// settlement is the outcome of a resolution attempt whose disbursement has
// started. payouts[:paid] have already been pushed out; a retry resumes at
// payouts[paid] so no account is ever paid twice.
type settlement struct {
	outcome       domain.Outcome
	observedValue *big.Int
	observedAt    time.Time
	payouts       []domain.Payment
	paid          int
}

// newPool is called by the Manager factory; pools are never constructed
// directly.
func newPool(
	id int64,
	feed domain.FeedRef,
	threshold *big.Int,
	deadline time.Time,
	feeBps int,
	minStake *big.Int,
	resolver domain.Account,
	token domain.ValueTransferrer,
	oracle domain.PriceOracle,
	now func() time.Time,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		id:         id,
		feed:       feed,
		threshold:  new(big.Int).Set(threshold),
		deadline:   deadline,
		createdAt:  now(),
		feeBps:     feeBps,
		minStake:   new(big.Int).Set(minStake),
		resolver:   resolver,
		token:      token,
		oracle:     oracle,
		now:        now,
		logger:     logger.With(slog.Int64("pool_id", id)),
		active:     true,
		totalAbove: new(big.Int),
		totalBelow: new(big.Int),
		stakes:     make(map[domain.Account]*domain.Stake),
	}
}

// ID returns the pool's stable id in the manager's arena.
func (p *Pool) ID() int64 { return p.id }

// Feed returns the price feed the pool settles against.
func (p *Pool) Feed() domain.FeedRef { return p.feed }

// Threshold returns the settlement threshold.
func (p *Pool) Threshold() *big.Int { return new(big.Int).Set(p.threshold) }

// Deadline returns the resolution deadline.
func (p *Pool) Deadline() time.Time { return p.deadline }

// AddBet collects gross stake from the bettor and credits the net (post-fee)
// amounts to the ledger and side totals. The gross transfer happens before
// any ledger mutation, so a failed pull leaves the pool untouched.
func (p *Pool) AddBet(ctx context.Context, bettor domain.Account, above, below *big.Int) (domain.BetPlaced, error) {
	above = nz(above)
	below = nz(below)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Once disbursement has started the payout set is fixed; a stake
	// accepted now could never be settled.
	if !p.active || p.pending != nil {
		return domain.BetPlaced{}, domain.ErrPoolNotActive
	}

	gross := new(big.Int).Add(above, below)
	if above.Sign() < 0 || below.Sign() < 0 || gross.Cmp(p.minStake) < 0 {
		return domain.BetPlaced{}, domain.ErrBelowMinimumStake
	}

	if err := p.token.PullFrom(ctx, bettor, gross); err != nil {
		return domain.BetPlaced{}, fmt.Errorf("%w: pull %s from %s: %v",
			domain.ErrTransferFailed, gross, bettor, err)
	}

	netAbove := netAfterFee(above, p.feeBps)
	netBelow := netAfterFee(below, p.feeBps)

	p.credit(bettor, netAbove, netBelow)

	ev := domain.BetPlaced{
		PoolID:     p.id,
		Account:    bettor,
		GrossAbove: above,
		GrossBelow: below,
		NetAbove:   netAbove,
		NetBelow:   netBelow,
		PlacedAt:   p.now(),
	}

	p.logger.InfoContext(ctx, "bet placed",
		slog.String("account", bettor.Hex()),
		slog.String("net_above", netAbove.String()),
		slog.String("net_below", netBelow.String()),
	)

	return ev, nil
}

// credit accumulates net stakes into the caller's ledger entry and the pool
// totals. Callers must hold p.mu.
func (p *Pool) credit(bettor domain.Account, netAbove, netBelow *big.Int) {
	entry, ok := p.stakes[bettor]
	if !ok {
		entry = &domain.Stake{Above: new(big.Int), Below: new(big.Int)}
		p.stakes[bettor] = entry
	}
	entry.Above.Add(entry.Above, netAbove)
	entry.Below.Add(entry.Below, netBelow)
	p.totalAbove.Add(p.totalAbove, netAbove)
	p.totalBelow.Add(p.totalBelow, netBelow)
}

// CanResolve reports whether the pool is eligible for resolution: the
// deadline has passed and the oracle has an observation at or after it.
// It is a side-effect-free predicate and is safe to re-evaluate any number
// of times.
func (p *Pool) CanResolve(ctx context.Context) bool {
	if p.now().Before(p.deadline) {
		return false
	}
	obs, err := p.oracle.Observation(ctx, p.feed)
	if err != nil {
		return false
	}
	return !obs.ObservedAt.Before(p.deadline)
}

// Finish resolves the pool: it reads the oracle, computes pari-mutuel
// payouts, disburses them, and transitions the pool to the resolved state.
// The whole resolution runs under the pool mutex; a second call after a
// successful Finish observes ErrPoolNotActive.
//
// Only the configured resolver identity may call Finish. If an outbound
// transfer fails the pool stays active, but the computed outcome and the
// transfers already made are retained: the payout set is frozen at the
// first eligible call and a retry resumes at the first unpaid payout, so
// no account is ever disbursed more than its entitlement.
func (p *Pool) Finish(ctx context.Context, caller domain.Account) (domain.PoolResolved, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.resolver {
		return domain.PoolResolved{}, domain.ErrUnauthorized
	}
	if !p.active {
		return domain.PoolResolved{}, domain.ErrPoolNotActive
	}

	if p.pending == nil {
		if p.now().Before(p.deadline) {
			return domain.PoolResolved{}, domain.ErrPoolNotReady
		}

		obs, err := p.oracle.Observation(ctx, p.feed)
		if err != nil {
			return domain.PoolResolved{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
		if obs.ObservedAt.Before(p.deadline) {
			return domain.PoolResolved{}, domain.ErrPoolNotReady
		}

		var outcome domain.Outcome
		switch obs.Value.Cmp(p.threshold) {
		case 1:
			outcome = domain.OutcomeAbove
		case -1:
			outcome = domain.OutcomeBelow
		default:
			outcome = domain.OutcomeTie
		}

		p.pending = &settlement{
			outcome:       outcome,
			observedValue: new(big.Int).Set(obs.Value),
			observedAt:    obs.ObservedAt,
			payouts:       ComputePayouts(outcome, p.ledger()),
		}
	}

	s := p.pending
	for s.paid < len(s.payouts) {
		pay := s.payouts[s.paid]
		if err := p.token.PushTo(ctx, pay.To, pay.Amount); err != nil {
			return domain.PoolResolved{}, fmt.Errorf("%w: push %s to %s: %v",
				domain.ErrTransferFailed, pay.Amount, pay.To, err)
		}
		s.paid++
	}

	p.active = false
	p.pending = nil

	ev := domain.PoolResolved{
		PoolID:        p.id,
		Outcome:       s.outcome,
		ObservedValue: new(big.Int).Set(s.observedValue),
		ObservedAt:    s.observedAt,
		TotalAbove:    new(big.Int).Set(p.totalAbove),
		TotalBelow:    new(big.Int).Set(p.totalBelow),
		Payouts:       s.payouts,
		ResolvedAt:    p.now(),
	}

	p.logger.InfoContext(ctx, "pool resolved",
		slog.String("outcome", string(s.outcome)),
		slog.String("observed", s.observedValue.String()),
		slog.Int("payouts", len(s.payouts)),
	)

	return ev, nil
}

// ledger copies the stake map so the payout calculator works on an immutable
// view. Callers must hold p.mu.
func (p *Pool) ledger() map[domain.Account]domain.Stake {
	out := make(map[domain.Account]domain.Stake, len(p.stakes))
	for acct, s := range p.stakes {
		out[acct] = domain.Stake{
			Above: new(big.Int).Set(s.Above),
			Below: new(big.Int).Set(s.Below),
		}
	}
	return out
}

// Snapshot returns a point-in-time copy of the pool's observable state.
func (p *Pool) Snapshot() domain.PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	return domain.PoolInfo{
		ID:         p.id,
		Feed:       p.feed,
		Threshold:  new(big.Int).Set(p.threshold),
		Deadline:   p.deadline,
		Active:     p.active,
		TotalAbove: new(big.Int).Set(p.totalAbove),
		TotalBelow: new(big.Int).Set(p.totalBelow),
		Bettors:    len(p.stakes),
		CreatedAt:  p.createdAt,
	}
}

// Stake returns the account's recorded net stakes, zero-valued when the
// account never bet on this pool.
func (p *Pool) Stake(acct domain.Account) domain.Stake {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stakes[acct]
	if !ok {
		return domain.Stake{Above: new(big.Int), Below: new(big.Int)}
	}
	return domain.Stake{
		Above: new(big.Int).Set(s.Above),
		Below: new(big.Int).Set(s.Below),
	}
}

// restore rebuilds ledger state from persisted records during rehydration.
// No value moves: the gross transfers already happened before the restart.
func (p *Pool) restore(rec domain.PoolRecord, bets []domain.BetRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range bets {
		p.credit(b.Account, nz(b.NetAbove), nz(b.NetBelow))
	}
	p.active = rec.Active
	p.createdAt = rec.CreatedAt
}

// netAfterFee applies the stake-time protocol fee:
// floor(amount * (10000 - feeBps) / 10000).
func netAfterFee(amount *big.Int, feeBps int) *big.Int {
	net := new(big.Int).Mul(amount, big.NewInt(int64(domain.MaxFeeBasisPoints-feeBps)))
	return net.Quo(net, big.NewInt(domain.MaxFeeBasisPoints))
}
