// Package server exposes the betting-pool engine over HTTP and WebSocket.
//
// The API sits behind a single shared key (Config.APIKey): every
// authenticated client is equally trusted at the transport layer, and
// address fields in request bodies (the bet account, the resolve caller)
// are client-asserted. Address-level control lives below this layer: the
// engine rejects a resolve caller that is not the configured resolver and
// owner-only operations from anyone else, and stakes are pulled from the
// named account only to the extent that account has approved the treasury.
// Deployments that need per-identity credentials terminate them in front of
// this server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/server/handler"
	"github.com/alanyoungcy/orcbet/internal/server/middleware"
	"github.com/alanyoungcy/orcbet/internal/server/ws"
)

// Per-client budget for stake-moving requests.
const (
	betRateLimit  = 10
	betRateWindow = time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Oracle is optional and registered only for the manual oracle adapter.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Feeds  *handler.FeedHandler
	Pools  *handler.PoolHandler
	Events *handler.EventsHandler
	Oracle *handler.OracleHandler
}

// Server is the HTTP + WebSocket API server for the betting-pool engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket
// hub. limiter may be nil to disable rate limiting on stake-moving routes.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Manager status and administration.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/initialize", handlers.Feeds.Initialize)
	mux.HandleFunc("GET /api/feeds", handlers.Feeds.ListFeeds)
	mux.HandleFunc("POST /api/feeds", handlers.Feeds.AddFeed)

	// Pool lifecycle.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{id}/resolve", handlers.Pools.Resolve)

	// Bet placement moves value, so it carries a per-client rate limit.
	placeBet := http.Handler(http.HandlerFunc(handlers.Pools.PlaceBet))
	if limiter != nil {
		placeBet = middleware.RateLimit(limiter, betRateLimit, betRateWindow)(placeBet)
	}
	mux.Handle("POST /api/pools/{id}/bets", placeBet)

	// Read-side views.
	mux.HandleFunc("GET /api/pools/{id}/bets", handlers.Pools.ListBets)
	mux.HandleFunc("GET /api/pools/{id}/payouts", handlers.Pools.ListPayouts)
	mux.HandleFunc("GET /api/pools/{id}/events", handlers.Pools.ListEvents)
	mux.HandleFunc("GET /api/pools/{id}/stake", handlers.Pools.GetStake)
	mux.HandleFunc("GET /api/pools/{id}/report", handlers.Pools.GetReport)

	// Durable stream replay.
	mux.HandleFunc("GET /api/events", handlers.Events.ListStream)

	// Manual oracle administration (dev deployments only).
	if handlers.Oracle != nil {
		mux.HandleFunc("POST /api/oracle/observations", handlers.Oracle.PostObservation)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
