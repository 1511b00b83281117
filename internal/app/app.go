// Package app provides the top-level application lifecycle for the OrcBet
// service. It wires together all dependencies (engine, stores, caches, blob
// storage, notifications), rehydrates the engine from the database, and runs
// the HTTP server and WebSocket hub until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/orcbet/internal/config"
	"github.com/alanyoungcy/orcbet/internal/engine"
	"github.com/alanyoungcy/orcbet/internal/server"
	"github.com/alanyoungcy/orcbet/internal/server/handler"
	"github.com/alanyoungcy/orcbet/internal/server/ws"
	"github.com/alanyoungcy/orcbet/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, rehydrates the
// engine, starts the server goroutines, and blocks until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("eth_mode", a.cfg.Eth.Mode),
		slog.String("oracle_mode", a.cfg.Oracle.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mgr, err := engine.NewManager(engine.Config{
		Owner:          common.HexToAddress(a.cfg.Manager.Owner),
		FeeBasisPoints: a.cfg.Manager.FeeBasisPoints,
		MinimumStake:   a.cfg.MinimumStakeAmount(),
	}, deps.Token, deps.Oracle, a.logger)
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}

	svc := service.NewBetService(
		mgr,
		deps.PoolStore,
		deps.EventStore,
		deps.SignalBus,
		deps.PoolCache,
		deps.LockManager,
		deps.Notifier,
		deps.Archiver,
		a.logger,
	)

	if err := a.bootstrap(ctx, svc); err != nil {
		return err
	}

	return a.serve(ctx, deps, svc)
}

// bootstrap initializes the manager and whitelist from configuration, then
// rehydrates the engine from the pool store. It must complete before the
// server accepts traffic.
func (a *App) bootstrap(ctx context.Context, svc *service.BetService) error {
	owner := common.HexToAddress(a.cfg.Manager.Owner)

	if a.cfg.Manager.Resolver != "" {
		resolver := common.HexToAddress(a.cfg.Manager.Resolver)
		if err := svc.Initialize(ctx, owner, resolver, a.cfg.UpkeepIDAmount()); err != nil {
			return fmt.Errorf("app: initialize manager: %w", err)
		}
	}

	for _, feed := range a.cfg.Manager.Feeds {
		if err := svc.AddFeed(ctx, owner, common.HexToAddress(feed)); err != nil {
			return fmt.Errorf("app: whitelist feed %s: %w", feed, err)
		}
	}

	restored, err := svc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("app: restore engine: %w", err)
	}
	a.logger.InfoContext(ctx, "engine ready",
		slog.Int("pools", restored),
		slog.Int("feeds", len(svc.Feeds())),
	)
	return nil
}

// serve runs the HTTP server, the WebSocket hub, and the keeper until the
// context is cancelled.
func (a *App) serve(ctx context.Context, deps *Dependencies, svc *service.BetService) error {
	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, svc, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(svc, time.Now().UTC()),
		Feeds:  handler.NewFeedHandler(svc, a.logger),
		Pools:  handler.NewPoolHandler(svc, deps.BlobReader, a.logger),
		Events: handler.NewEventsHandler(deps.SignalBus, a.logger),
	}
	if deps.ManualOracle != nil {
		handlers.Oracle = handler.NewOracleHandler(deps.ManualOracle, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
