package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/engine"
)

func addr(n int64) domain.Account {
	return common.BigToAddress(big.NewInt(n))
}

func amt(v int64) *big.Int { return big.NewInt(v) }

// fakeToken escrows nothing; it records transfers and always succeeds.
type fakeToken struct {
	mu     sync.Mutex
	pulls  int
	pushes int
}

func (f *fakeToken) PullFrom(context.Context, domain.Account, *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return nil
}

func (f *fakeToken) PushTo(context.Context, domain.Account, *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return nil
}

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

// memPoolStore keeps records in memory and mimics the Postgres store's
// behavior closely enough for orchestration tests.
type memPoolStore struct {
	mu      sync.Mutex
	pools   map[int64]domain.PoolRecord
	bets    map[int64][]domain.BetRecord
	payouts map[int64][]domain.PayoutRecord

	failInsertBet bool
}

func newMemPoolStore() *memPoolStore {
	return &memPoolStore{
		pools:   make(map[int64]domain.PoolRecord),
		bets:    make(map[int64][]domain.BetRecord),
		payouts: make(map[int64][]domain.PayoutRecord),
	}
}

func (m *memPoolStore) InsertPool(_ context.Context, pool domain.PoolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool.ID] = pool
	return nil
}

func (m *memPoolStore) InsertBet(_ context.Context, bet domain.BetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertBet {
		return errors.New("insert rejected")
	}
	m.bets[bet.PoolID] = append(m.bets[bet.PoolID], bet)
	return nil
}

func (m *memPoolStore) MarkResolved(_ context.Context, id int64, outcome domain.Outcome, observed *big.Int, resolvedAt time.Time, payouts []domain.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pools[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Active = false
	rec.Outcome = outcome
	rec.ObservedValue = observed
	rec.ResolvedAt = &resolvedAt
	m.pools[id] = rec
	m.payouts[id] = payouts
	return nil
}

func (m *memPoolStore) GetPool(_ context.Context, id int64) (domain.PoolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pools[id]
	if !ok {
		return domain.PoolRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memPoolStore) ListPools(_ context.Context, opts domain.ListOpts) ([]domain.PoolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.PoolRecord
	for id := int64(0); int(id) < len(m.pools); id++ {
		out = append(out, m.pools[id])
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memPoolStore) ListBets(_ context.Context, poolID int64) ([]domain.BetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BetRecord(nil), m.bets[poolID]...), nil
}

func (m *memPoolStore) ListPayouts(_ context.Context, poolID int64) ([]domain.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PayoutRecord(nil), m.payouts[poolID]...), nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []domain.EventRecord
}

func (m *memEventStore) Append(_ context.Context, ev domain.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventStore) ListByPool(_ context.Context, poolID int64, _ domain.ListOpts) ([]domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventRecord
	for _, ev := range m.events {
		if ev.PoolID == poolID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventStore) byType(t string) []domain.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventRecord
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (m *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamed = append(m.streamed, payload)
	return nil
}

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type svcEnv struct {
	svc      *BetService
	store    *memPoolStore
	events   *memEventStore
	bus      *memBus
	locks    *memLocks
	token    *fakeToken
	oracle   *fakeOracle
	clock    *fakeClock
	owner    domain.Account
	resolver domain.Account
	feed     domain.FeedRef
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()

	env := &svcEnv{
		store:    newMemPoolStore(),
		events:   &memEventStore{},
		bus:      &memBus{},
		locks:    newMemLocks(),
		token:    &fakeToken{},
		oracle:   &fakeOracle{},
		clock:    &fakeClock{t: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)},
		owner:    addr(0xA0),
		resolver: addr(0xB0),
		feed:     addr(0xF0),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := engine.NewManager(engine.Config{
		Owner:          env.owner,
		FeeBasisPoints: 100,
		MinimumStake:   amt(1),
		Clock:          env.clock.Now,
	}, env.token, env.oracle, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	env.svc = NewBetService(mgr, env.store, env.events, env.bus, nil, env.locks, nil, nil, logger)

	ctx := context.Background()
	if err := env.svc.Initialize(ctx, env.owner, env.resolver, amt(7)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := env.svc.AddFeed(ctx, env.owner, env.feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	return env
}

func (env *svcEnv) createPool(t *testing.T) domain.PoolInfo {
	t.Helper()
	info, err := env.svc.CreatePool(context.Background(), env.feed, amt(4_000), env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return info
}

func (env *svcEnv) arm(value int64, deadline time.Time) {
	env.clock.Advance(2 * time.Hour)
	env.oracle.mu.Lock()
	env.oracle.obs = domain.Observation{Value: amt(value), ObservedAt: deadline.Add(time.Minute)}
	env.oracle.mu.Unlock()
}

func TestCreatePoolPersistsAndJournals(t *testing.T) {
	env := newSvcEnv(t)
	info := env.createPool(t)

	rec, err := env.store.GetPool(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if !rec.Active || rec.Threshold.Cmp(amt(4_000)) != 0 {
		t.Errorf("persisted record = %+v", rec)
	}

	created := env.events.byType(domain.EventTypePoolCreated)
	if len(created) != 1 {
		t.Fatalf("journaled %d pool_created events, want 1", len(created))
	}
	if len(env.bus.published) != 1 || len(env.bus.streamed) != 1 {
		t.Errorf("bus fan-out = %d/%d, want 1/1", len(env.bus.published), len(env.bus.streamed))
	}

	var envelope struct {
		Event  string `json:"event"`
		PoolID int64  `json:"pool_id"`
	}
	if err := json.Unmarshal(env.bus.published[0], &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Event != domain.EventTypePoolCreated || envelope.PoolID != info.ID {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestPlaceBetPersistsLedger(t *testing.T) {
	env := newSvcEnv(t)
	info := env.createPool(t)
	ctx := context.Background()

	ev, err := env.svc.PlaceBet(ctx, info.ID, addr(1), amt(10_000), nil)
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if ev.NetAbove.Cmp(amt(9_900)) != 0 {
		t.Errorf("net above = %s, want 9900", ev.NetAbove)
	}

	bets, err := env.svc.ListBets(ctx, info.ID)
	if err != nil {
		t.Fatalf("ListBets: %v", err)
	}
	if len(bets) != 1 || bets[0].GrossAbove.Cmp(amt(10_000)) != 0 {
		t.Errorf("persisted bets = %+v", bets)
	}

	if len(env.events.byType(domain.EventTypeBetPlaced)) != 1 {
		t.Error("bet_placed event not journaled")
	}
}

func TestPlaceBetUnknownPool(t *testing.T) {
	env := newSvcEnv(t)

	_, err := env.svc.PlaceBet(context.Background(), 99, addr(1), amt(100), nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("PlaceBet = %v, want ErrNotFound", err)
	}
}

func TestResolvePersistsSettlement(t *testing.T) {
	env := newSvcEnv(t)
	info := env.createPool(t)
	ctx := context.Background()

	if _, err := env.svc.PlaceBet(ctx, info.ID, addr(1), amt(10_000), nil); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if _, err := env.svc.PlaceBet(ctx, info.ID, addr(2), nil, amt(10_000)); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	env.arm(5_000, info.Deadline)

	ev, err := env.svc.Resolve(ctx, info.ID, env.resolver)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ev.Outcome != domain.OutcomeAbove {
		t.Errorf("outcome = %s, want above", ev.Outcome)
	}

	rec, err := env.store.GetPool(ctx, info.ID)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if rec.Active || rec.Outcome != domain.OutcomeAbove || rec.ResolvedAt == nil {
		t.Errorf("persisted record = %+v", rec)
	}

	payouts, err := env.svc.ListPayouts(ctx, info.ID)
	if err != nil {
		t.Fatalf("ListPayouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Account != addr(1) {
		t.Fatalf("payouts = %+v", payouts)
	}
	// Winner takes own net stake plus the whole losing side.
	if payouts[0].Amount.Cmp(amt(19_800)) != 0 {
		t.Errorf("payout = %s, want 19800", payouts[0].Amount)
	}

	if len(env.events.byType(domain.EventTypePoolResolved)) != 1 {
		t.Error("pool_resolved event not journaled")
	}
}

func TestResolveSecondCallFails(t *testing.T) {
	env := newSvcEnv(t)
	info := env.createPool(t)
	ctx := context.Background()

	if _, err := env.svc.PlaceBet(ctx, info.ID, addr(1), amt(10_000), nil); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	env.arm(5_000, info.Deadline)

	if _, err := env.svc.Resolve(ctx, info.ID, env.resolver); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := env.svc.Resolve(ctx, info.ID, env.resolver); !errors.Is(err, domain.ErrPoolNotActive) {
		t.Errorf("second Resolve = %v, want ErrPoolNotActive", err)
	}
}

func TestResolveBlockedByHeldLock(t *testing.T) {
	env := newSvcEnv(t)
	info := env.createPool(t)
	ctx := context.Background()

	env.arm(5_000, info.Deadline)

	unlock, err := env.locks.Acquire(ctx, resolveLockKey(info.ID), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer unlock()

	if _, err := env.svc.Resolve(ctx, info.ID, env.resolver); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("Resolve under held lock = %v, want ErrLockHeld", err)
	}
}

func TestRestoreRebuildsEngine(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	// Build state through the service, then rebuild a fresh engine from the
	// same store.
	info := env.createPool(t)
	if _, err := env.svc.PlaceBet(ctx, info.ID, addr(1), amt(10_000), nil); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if _, err := env.svc.PlaceBet(ctx, info.ID, addr(2), nil, amt(20_000)); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	freshToken := &fakeToken{}
	mgr2, err := engine.NewManager(engine.Config{
		Owner:          env.owner,
		FeeBasisPoints: 100,
		MinimumStake:   amt(1),
		Clock:          env.clock.Now,
	}, freshToken, env.oracle, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr2.Initialize(env.owner, env.resolver, amt(7)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := mgr2.AddFeed(env.owner, env.feed); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}

	svc2 := NewBetService(mgr2, env.store, env.events, env.bus, nil, nil, nil, nil, logger)
	restored, err := svc2.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored = %d, want 1", restored)
	}
	if freshToken.pulls != 0 || freshToken.pushes != 0 {
		t.Error("restore moved value")
	}

	got, err := svc2.GetPool(ctx, info.ID)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if got.TotalAbove.Cmp(amt(9_900)) != 0 || got.TotalBelow.Cmp(amt(19_800)) != 0 {
		t.Errorf("restored totals = %s/%s, want 9900/19800", got.TotalAbove, got.TotalBelow)
	}

	// The restored engine can settle the pool.
	env.arm(3_000, info.Deadline)
	ev, err := svc2.Resolve(ctx, info.ID, env.resolver)
	if err != nil {
		t.Fatalf("Resolve after restore: %v", err)
	}
	if ev.Outcome != domain.OutcomeBelow {
		t.Errorf("outcome = %s, want below", ev.Outcome)
	}
	if freshToken.pushes != 1 {
		t.Errorf("pushes = %d, want 1", freshToken.pushes)
	}
}
