// Package service orchestrates the betting-pool engine with persistence,
// caching, messaging, notifications, and cold-storage archiving.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/engine"
	"github.com/alanyoungcy/orcbet/internal/notify"
)

// Bus names shared by publishers and consumers.
const (
	EventsChannel = "orcbet:events"
	EventsStream  = "orcbet:events:stream"
)

// resolveLockTTL bounds how long a crashed resolver can block a pool.
const resolveLockTTL = 30 * time.Second

// BetService is the write path of the system. Every state change flows
// through it: the engine mutates in-memory state, the pool store makes it
// durable, and the signal bus, cache, notifier, and archiver fan the change
// out. Cache, locks, notifier, and archiver are optional; nil disables them.
type BetService struct {
	mgr      *engine.Manager
	pools    domain.PoolStore
	events   domain.EventStore
	bus      domain.SignalBus
	cache    domain.PoolCache
	locks    domain.LockManager
	notifier *notify.Notifier
	archiver domain.SettlementArchiver
	logger   *slog.Logger
}

// NewBetService creates a BetService. mgr, pools, events, and bus are
// required.
func NewBetService(
	mgr *engine.Manager,
	pools domain.PoolStore,
	events domain.EventStore,
	bus domain.SignalBus,
	cache domain.PoolCache,
	locks domain.LockManager,
	notifier *notify.Notifier,
	archiver domain.SettlementArchiver,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		mgr:      mgr,
		pools:    pools,
		events:   events,
		bus:      bus,
		cache:    cache,
		locks:    locks,
		notifier: notifier,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "bet_service")),
	}
}

// Manager exposes the underlying engine for read-only callers (status
// endpoints, the restore path).
func (s *BetService) Manager() *engine.Manager { return s.mgr }

// Initialize records the resolver identity and upkeep id. Owner-only,
// exactly once.
func (s *BetService) Initialize(ctx context.Context, caller, resolver domain.Account, upkeepID *big.Int) error {
	return s.mgr.Initialize(caller, resolver, upkeepID)
}

// AddFeed whitelists a price feed. Owner-only, idempotent.
func (s *BetService) AddFeed(ctx context.Context, caller domain.Account, feed domain.FeedRef) error {
	return s.mgr.AddFeed(caller, feed)
}

// Feeds returns the whitelisted feeds.
func (s *BetService) Feeds() []domain.FeedRef { return s.mgr.Feeds() }

// CreatePool opens a new pool, persists it, and announces it.
func (s *BetService) CreatePool(ctx context.Context, feed domain.FeedRef, threshold *big.Int, deadline time.Time) (domain.PoolInfo, error) {
	pool, ev, err := s.mgr.CreateBetPool(feed, threshold, deadline)
	if err != nil {
		return domain.PoolInfo{}, err
	}

	info := pool.Snapshot()
	rec := domain.PoolRecord{
		ID:         info.ID,
		Feed:       info.Feed,
		Threshold:  info.Threshold,
		Deadline:   info.Deadline,
		Active:     true,
		TotalAbove: info.TotalAbove,
		TotalBelow: info.TotalBelow,
		CreatedAt:  info.CreatedAt,
	}
	if err := s.pools.InsertPool(ctx, rec); err != nil {
		return domain.PoolInfo{}, fmt.Errorf("bet_service: persist pool %d: %w", info.ID, err)
	}

	s.journal(ctx, domain.EventTypePoolCreated, ev.PoolID, ev)
	s.refreshCache(ctx, info)

	if s.notifier != nil {
		title, msg := notify.FormatPoolCreated(ev)
		if err := s.notifier.Notify(ctx, domain.EventTypePoolCreated, title, msg); err != nil {
			s.logger.WarnContext(ctx, "pool created notification failed",
				slog.Int64("pool_id", ev.PoolID),
				slog.String("error", err.Error()),
			)
		}
	}

	return info, nil
}

// PlaceBet collects the stake through the engine and makes the accepted bet
// durable. The engine's pull-before-mutate ordering means a rejected or
// failed bet leaves no trace anywhere.
func (s *BetService) PlaceBet(ctx context.Context, poolID int64, bettor domain.Account, above, below *big.Int) (domain.BetPlaced, error) {
	pool, err := s.mgr.Pool(poolID)
	if err != nil {
		return domain.BetPlaced{}, err
	}

	ev, err := pool.AddBet(ctx, bettor, above, below)
	if err != nil {
		return domain.BetPlaced{}, err
	}

	rec := domain.BetRecord{
		PoolID:     ev.PoolID,
		Account:    ev.Account,
		GrossAbove: ev.GrossAbove,
		GrossBelow: ev.GrossBelow,
		NetAbove:   ev.NetAbove,
		NetBelow:   ev.NetBelow,
		PlacedAt:   ev.PlacedAt,
	}
	if err := s.pools.InsertBet(ctx, rec); err != nil {
		// The stake is already escrowed and the engine already counts it;
		// losing the row would corrupt rehydration.
		return domain.BetPlaced{}, fmt.Errorf("bet_service: persist bet on pool %d: %w", poolID, err)
	}

	s.journal(ctx, domain.EventTypeBetPlaced, ev.PoolID, ev)
	s.refreshCache(ctx, pool.Snapshot())

	return ev, nil
}

// Resolve settles a pool. A distributed lock serializes resolvers across
// replicas; within a replica the pool mutex already guarantees exactly-once.
func (s *BetService) Resolve(ctx context.Context, poolID int64, caller domain.Account) (domain.PoolResolved, error) {
	pool, err := s.mgr.Pool(poolID)
	if err != nil {
		return domain.PoolResolved{}, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, resolveLockKey(poolID), resolveLockTTL)
		if err != nil {
			return domain.PoolResolved{}, fmt.Errorf("bet_service: lock pool %d: %w", poolID, err)
		}
		defer unlock()
	}

	ev, err := pool.Finish(ctx, caller)
	if err != nil {
		return domain.PoolResolved{}, err
	}

	payouts := make([]domain.PayoutRecord, 0, len(ev.Payouts))
	for _, p := range ev.Payouts {
		payouts = append(payouts, domain.PayoutRecord{
			PoolID:  poolID,
			Account: p.To,
			Amount:  p.Amount,
		})
	}
	if err := s.pools.MarkResolved(ctx, poolID, ev.Outcome, ev.ObservedValue, ev.ResolvedAt, payouts); err != nil {
		// The engine state is settled and the payouts are out; surface the
		// persistence failure loudly but do not undo settlement.
		s.logger.ErrorContext(ctx, "persisting resolution failed",
			slog.Int64("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		return ev, fmt.Errorf("bet_service: persist resolution of pool %d: %w", poolID, err)
	}

	s.journal(ctx, domain.EventTypePoolResolved, ev.PoolID, ev)
	s.invalidateCache(ctx, poolID)

	if s.notifier != nil {
		title, msg := notify.FormatPoolResolved(ev)
		if err := s.notifier.Notify(ctx, domain.EventTypePoolResolved, title, msg); err != nil {
			s.logger.WarnContext(ctx, "resolution notification failed",
				slog.Int64("pool_id", poolID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.archive(ctx, ev)

	return ev, nil
}

// GetPool returns a pool snapshot, preferring the cache.
func (s *BetService) GetPool(ctx context.Context, poolID int64) (domain.PoolInfo, error) {
	if s.cache != nil {
		if info, err := s.cache.Get(ctx, poolID); err == nil {
			return info, nil
		}
	}

	pool, err := s.mgr.Pool(poolID)
	if err != nil {
		return domain.PoolInfo{}, err
	}

	info := pool.Snapshot()
	s.refreshCache(ctx, info)
	return info, nil
}

// PoolRecord returns a pool's durable record, including resolution fields
// the in-memory snapshot does not carry.
func (s *BetService) PoolRecord(ctx context.Context, poolID int64) (domain.PoolRecord, error) {
	return s.pools.GetPool(ctx, poolID)
}

// ListPools returns pool snapshots in id order with pagination.
func (s *BetService) ListPools(ctx context.Context, opts domain.ListOpts) []domain.PoolInfo {
	pools := s.mgr.Pools()

	if opts.Offset > 0 {
		if opts.Offset >= len(pools) {
			return nil
		}
		pools = pools[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(pools) {
		pools = pools[:opts.Limit]
	}

	infos := make([]domain.PoolInfo, 0, len(pools))
	for _, p := range pools {
		infos = append(infos, p.Snapshot())
	}
	return infos
}

// Stake returns an account's net ledger position on a pool.
func (s *BetService) Stake(poolID int64, acct domain.Account) (domain.Stake, error) {
	pool, err := s.mgr.Pool(poolID)
	if err != nil {
		return domain.Stake{}, err
	}
	return pool.Stake(acct), nil
}

// ListBets returns a pool's durable bet ledger.
func (s *BetService) ListBets(ctx context.Context, poolID int64) ([]domain.BetRecord, error) {
	if _, err := s.mgr.Pool(poolID); err != nil {
		return nil, err
	}
	return s.pools.ListBets(ctx, poolID)
}

// ListPayouts returns a resolved pool's settlement transfers.
func (s *BetService) ListPayouts(ctx context.Context, poolID int64) ([]domain.PayoutRecord, error) {
	if _, err := s.mgr.Pool(poolID); err != nil {
		return nil, err
	}
	return s.pools.ListPayouts(ctx, poolID)
}

// ListEvents returns a pool's journal entries.
func (s *BetService) ListEvents(ctx context.Context, poolID int64, opts domain.ListOpts) ([]domain.EventRecord, error) {
	return s.events.ListByPool(ctx, poolID, opts)
}

// Restore rehydrates the engine from the pool store. It must run once at
// startup, after Initialize and feed whitelisting, before the server accepts
// traffic. It returns the number of pools restored.
func (s *BetService) Restore(ctx context.Context) (int, error) {
	const pageSize = 200

	restored := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.pools.ListPools(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return restored, fmt.Errorf("bet_service: restore list pools: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			bets, err := s.pools.ListBets(ctx, rec.ID)
			if err != nil {
				return restored, fmt.Errorf("bet_service: restore bets for pool %d: %w", rec.ID, err)
			}
			if _, err := s.mgr.RestorePool(rec, bets); err != nil {
				return restored, fmt.Errorf("bet_service: restore pool %d: %w", rec.ID, err)
			}
			restored++
		}

		if len(page) < pageSize {
			break
		}
	}

	if restored > 0 {
		s.logger.InfoContext(ctx, "engine rehydrated", slog.Int("pools", restored))
	}
	return restored, nil
}

// journal writes the event to the durable journal and fans it out on the
// bus. Journal failures are surfaced as warnings; the engine state change
// they describe has already happened.
func (s *BetService) journal(ctx context.Context, eventType string, poolID int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	rec := domain.EventRecord{
		ID:        uuid.New().String(),
		Type:      eventType,
		PoolID:    poolID,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.Append(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "journal append failed",
			slog.String("type", eventType),
			slog.Int64("pool_id", poolID),
			slog.String("error", err.Error()),
		)
	}

	envelope, err := json.Marshal(busEvent{ID: rec.ID, Event: eventType, PoolID: poolID, Data: payload})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, EventsChannel, envelope); err != nil {
		s.logger.WarnContext(ctx, "bus publish failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventsStream, envelope); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// busEvent is the wire envelope published on the signal bus.
type busEvent struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	PoolID int64  `json:"pool_id"`
	Data   any    `json:"data"`
}

// archive ships the settlement report to cold storage, best-effort.
func (s *BetService) archive(ctx context.Context, ev domain.PoolResolved) {
	if s.archiver == nil {
		return
	}

	bets, err := s.pools.ListBets(ctx, ev.PoolID)
	if err != nil {
		s.logger.WarnContext(ctx, "archive skipped, bets unavailable",
			slog.Int64("pool_id", ev.PoolID),
			slog.String("error", err.Error()),
		)
		return
	}

	path, err := s.archiver.ArchiveSettlement(ctx, ev, bets)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement archive failed",
			slog.Int64("pool_id", ev.PoolID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "settlement archived",
		slog.Int64("pool_id", ev.PoolID),
		slog.String("path", path),
	)
}

func (s *BetService) refreshCache(ctx context.Context, info domain.PoolInfo) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, info); err != nil {
		s.logger.WarnContext(ctx, "cache refresh failed",
			slog.Int64("pool_id", info.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BetService) invalidateCache(ctx context.Context, poolID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, poolID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Int64("pool_id", poolID),
			slog.String("error", err.Error()),
		)
	}
}

func resolveLockKey(poolID int64) string {
	return fmt.Sprintf("pool:%d:resolve", poolID)
}
