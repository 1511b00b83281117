package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/orcbet/internal/service"
)

// FeedHandler serves manager administration: one-time initialization and the
// price-feed whitelist.
type FeedHandler struct {
	svc    *service.BetService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(svc *service.BetService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		svc:    svc,
		logger: logHandler(logger, "feed"),
	}
}

// Initialize records the resolver identity and upkeep id. Owner-only,
// exactly once.
// POST /api/initialize
func (h *FeedHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Resolver string `json:"resolver"`
		UpkeepID string `json:"upkeep_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	resolver, ok := parseAddress(req.Resolver)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid resolver address")
		return
	}
	upkeepID, ok := new(big.Int).SetString(req.UpkeepID, 10)
	if !ok || upkeepID.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "invalid upkeep id")
		return
	}

	if err := h.svc.Initialize(r.Context(), caller, resolver, upkeepID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("manager initialized", slog.String("resolver", resolver.Hex()))
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": true,
		"resolver":    resolver.Hex(),
		"upkeep_id":   upkeepID.String(),
	})
}

// ListFeeds returns the whitelisted price feeds.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := h.svc.Feeds()

	views := make([]string, 0, len(feeds))
	for _, f := range feeds {
		views = append(views, f.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feeds": views,
		"count": len(views),
	})
}

// AddFeed whitelists a price feed. Owner-only, idempotent.
// POST /api/feeds
func (h *FeedHandler) AddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Feed   string `json:"feed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	feed, ok := parseAddress(req.Feed)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid feed address")
		return
	}

	if err := h.svc.AddFeed(r.Context(), caller, feed); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("feed whitelisted", slog.String("feed", feed.Hex()))
	writeJSON(w, http.StatusCreated, map[string]any{"feed": feed.Hex()})
}
