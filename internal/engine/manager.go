package engine

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/pkg/hashset"
)

// Config carries the immutable protocol parameters fixed at manager
// construction.
type Config struct {
	// Owner is the identity allowed to initialize the manager and whitelist
	// feeds.
	Owner domain.Account

	// FeeBasisPoints is the protocol fee taken at stake time, 0-10000.
	FeeBasisPoints int

	// MinimumStake is the smallest accepted gross bet (above + below).
	MinimumStake *big.Int

	// Clock overrides the time source; nil means time.Now. Used by tests.
	Clock func() time.Time
}

// Manager is the protocol gatekeeper and pool factory. It owns the fee and
// minimum-stake configuration, the feed whitelist, the resolver identity,
// and the append-only pool arena. Pool ids are arena indices: stable, dense,
// never reused.
type Manager struct {
	owner    domain.Account
	feeBps   int
	minStake *big.Int
	now      func() time.Time

	token  domain.ValueTransferrer
	oracle domain.PriceOracle
	logger *slog.Logger

	mu          sync.RWMutex
	initialized bool
	resolver    domain.Account
	upkeepID    *big.Int
	feeds       hashset.Set[domain.FeedRef]
	pools       []*Pool
}

// NewManager validates the protocol configuration and constructs an
// uninitialized manager. Initialize must be called before pools can be
// created.
func NewManager(cfg Config, token domain.ValueTransferrer, oracle domain.PriceOracle, logger *slog.Logger) (*Manager, error) {
	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints > domain.MaxFeeBasisPoints {
		return nil, fmt.Errorf("engine: fee basis points must be 0-%d, got %d",
			domain.MaxFeeBasisPoints, cfg.FeeBasisPoints)
	}
	if cfg.MinimumStake == nil || cfg.MinimumStake.Sign() <= 0 {
		return nil, fmt.Errorf("engine: minimum stake must be positive")
	}
	if token == nil {
		return nil, fmt.Errorf("engine: value transferrer is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("engine: price oracle is required")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Manager{
		owner:    cfg.Owner,
		feeBps:   cfg.FeeBasisPoints,
		minStake: new(big.Int).Set(cfg.MinimumStake),
		now:      now,
		token:    token,
		oracle:   oracle,
		logger:   logger.With(slog.String("component", "engine")),
		feeds:    hashset.New[domain.FeedRef](),
	}, nil
}

// Initialize records the resolver identity and the opaque upkeep id used by
// the external automation system. Owner-only, exactly once.
func (m *Manager) Initialize(caller, resolver domain.Account, upkeepID *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.owner {
		return domain.ErrUnauthorized
	}
	if m.initialized {
		return domain.ErrAlreadyInitialized
	}

	m.resolver = resolver
	if upkeepID != nil {
		m.upkeepID = new(big.Int).Set(upkeepID)
	} else {
		m.upkeepID = new(big.Int)
	}
	m.initialized = true

	m.logger.Info("manager initialized",
		slog.String("resolver", resolver.Hex()),
		slog.String("upkeep_id", m.upkeepID.String()),
	)
	return nil
}

// AddFeed whitelists a price feed. Owner-only and idempotent; feeds are
// never removed.
func (m *Manager) AddFeed(caller domain.Account, feed domain.FeedRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.owner {
		return domain.ErrUnauthorized
	}
	m.feeds.Add(feed)
	return nil
}

// SupportsFeed reports feed whitelist membership.
func (m *Manager) SupportsFeed(feed domain.FeedRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feeds.Has(feed)
}

// Feeds returns the whitelisted feeds in a stable (sorted) order.
func (m *Manager) Feeds() []domain.FeedRef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	feeds := m.feeds.AsSlice()
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].Cmp(feeds[j]) < 0
	})
	return feeds
}

// CreateBetPool validates preconditions and appends a new open pool to the
// arena. Whitelist membership is checked once, here; the pool keeps its feed
// reference even if the whitelist later changes.
func (m *Manager) CreateBetPool(feed domain.FeedRef, threshold *big.Int, deadline time.Time) (*Pool, domain.PoolCreated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, domain.PoolCreated{}, domain.ErrNotInitialized
	}
	if !m.feeds.Has(feed) {
		return nil, domain.PoolCreated{}, domain.ErrUnsupportedFeed
	}
	if threshold == nil {
		return nil, domain.PoolCreated{}, fmt.Errorf("engine: threshold is required")
	}
	if !deadline.After(m.now()) {
		return nil, domain.PoolCreated{}, domain.ErrInvalidDeadline
	}

	id := int64(len(m.pools))
	pool := newPool(id, feed, threshold, deadline,
		m.feeBps, m.minStake, m.resolver, m.token, m.oracle, m.now, m.logger)
	m.pools = append(m.pools, pool)

	ev := domain.PoolCreated{
		PoolID:    id,
		Feed:      feed,
		Threshold: new(big.Int).Set(threshold),
		Deadline:  deadline,
		CreatedAt: pool.createdAt,
	}

	m.logger.Info("pool created",
		slog.Int64("pool_id", id),
		slog.String("feed", feed.Hex()),
		slog.String("threshold", threshold.String()),
		slog.Time("deadline", deadline),
	)

	return pool, ev, nil
}

// RestorePool rebuilds one pool from persisted records during startup
// rehydration. Records must be applied in id order; the manager and its
// feeds/resolver must already be restored.
func (m *Manager) RestorePool(rec domain.PoolRecord, bets []domain.BetRecord) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, domain.ErrNotInitialized
	}
	if rec.ID != int64(len(m.pools)) {
		return nil, fmt.Errorf("engine: restore pool %d out of order, expected %d",
			rec.ID, len(m.pools))
	}

	pool := newPool(rec.ID, rec.Feed, rec.Threshold, rec.Deadline,
		m.feeBps, m.minStake, m.resolver, m.token, m.oracle, m.now, m.logger)
	pool.restore(rec, bets)
	m.pools = append(m.pools, pool)

	return pool, nil
}

// Pool looks up a pool by id.
func (m *Manager) Pool(id int64) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || id >= int64(len(m.pools)) {
		return nil, domain.ErrNotFound
	}
	return m.pools[id], nil
}

// Pools returns all pools in creation order.
func (m *Manager) Pools() []*Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Pool, len(m.pools))
	copy(out, m.pools)
	return out
}

// PoolCount returns the number of pools ever created.
func (m *Manager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// FeeBasisPoints returns the immutable protocol fee.
func (m *Manager) FeeBasisPoints() int { return m.feeBps }

// MinimumStake returns the immutable minimum gross stake.
func (m *Manager) MinimumStake() *big.Int { return new(big.Int).Set(m.minStake) }

// Owner returns the manager owner identity.
func (m *Manager) Owner() domain.Account { return m.owner }

// Initialized reports whether Initialize has been called.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Resolver returns the identity authorized to resolve pools. Zero until
// Initialize.
func (m *Manager) Resolver() domain.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolver
}

// UpkeepID returns the opaque automation registration id. Nil until
// Initialize.
func (m *Manager) UpkeepID() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.upkeepID == nil {
		return nil
	}
	return new(big.Int).Set(m.upkeepID)
}
