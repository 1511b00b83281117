package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// addr builds a deterministic test account from a small integer.
func addr(n int64) domain.Account {
	return common.BigToAddress(big.NewInt(n))
}

func amt(v int64) *big.Int { return big.NewInt(v) }

// transfer records one fake token movement.
type transfer struct {
	account domain.Account
	amount  *big.Int
}

// fakeToken implements domain.ValueTransferrer in memory, with optional
// failure injection.
type fakeToken struct {
	mu       sync.Mutex
	pulls    []transfer
	pushes   []transfer
	failPull bool
	// failPushAfter fails the push with this index (0-based); -1 disables.
	failPushAfter int
}

func newFakeToken() *fakeToken {
	return &fakeToken{failPushAfter: -1}
}

func (f *fakeToken) PullFrom(_ context.Context, payer domain.Account, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPull {
		return errors.New("pull rejected")
	}
	f.pulls = append(f.pulls, transfer{account: payer, amount: new(big.Int).Set(amount)})
	return nil
}

func (f *fakeToken) PushTo(_ context.Context, recipient domain.Account, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPushAfter >= 0 && len(f.pushes) >= f.failPushAfter {
		return errors.New("push rejected")
	}
	f.pushes = append(f.pushes, transfer{account: recipient, amount: new(big.Int).Set(amount)})
	return nil
}

func (f *fakeToken) pushedTotal() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := new(big.Int)
	for _, p := range f.pushes {
		total.Add(total, p.amount)
	}
	return total
}

func (f *fakeToken) pushedTo(acct domain.Account) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := new(big.Int)
	for _, p := range f.pushes {
		if p.account == acct {
			total.Add(total, p.amount)
		}
	}
	return total
}

// fakeOracle implements domain.PriceOracle with a single canned observation.
type fakeOracle struct {
	mu  sync.Mutex
	obs domain.Observation
	err error
}

func (f *fakeOracle) Observation(context.Context, domain.FeedRef) (domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Observation{}, f.err
	}
	return f.obs, nil
}

func (f *fakeOracle) set(value *big.Int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = domain.Observation{Value: value, ObservedAt: at}
	f.err = nil
}

// fakeClock is a mutable time source shared by manager and pools.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEnv bundles a ready-to-use initialized manager with one whitelisted
// feed and the fakes behind it.
type testEnv struct {
	mgr    *Manager
	token  *fakeToken
	oracle *fakeOracle
	clock  *fakeClock
	owner  domain.Account
	keeper domain.Account
	feed   domain.FeedRef
}

func newTestEnv(t *testing.T, feeBps int, minStake int64) *testEnv {
	t.Helper()

	env := &testEnv{
		token:  newFakeToken(),
		oracle: &fakeOracle{},
		clock:  newFakeClock(),
		owner:  addr(0xA0),
		keeper: addr(0xB0),
		feed:   addr(0xF0),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(Config{
		Owner:          env.owner,
		FeeBasisPoints: feeBps,
		MinimumStake:   amt(minStake),
		Clock:          env.clock.Now,
	}, env.token, env.oracle, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.Initialize(env.owner, env.keeper, amt(7)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := mgr.AddFeed(env.owner, env.feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	env.mgr = mgr
	return env
}

// openPool creates a pool with a 1h deadline and the given threshold.
func (env *testEnv) openPool(t *testing.T, threshold int64) *Pool {
	t.Helper()
	pool, _, err := env.mgr.CreateBetPool(env.feed, amt(threshold), env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateBetPool: %v", err)
	}
	return pool
}

// settleAt advances past the deadline and arms the oracle with a fresh
// observation of the given value.
func (env *testEnv) settleAt(pool *Pool, value int64) {
	env.clock.Advance(2 * time.Hour)
	env.oracle.set(amt(value), pool.Deadline().Add(time.Minute))
}
