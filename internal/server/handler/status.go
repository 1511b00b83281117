package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/orcbet/internal/service"
)

// StatusHandler serves a manager-level status snapshot for dashboards.
type StatusHandler struct {
	svc       *service.BetService
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(svc *service.BetService, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{svc: svc, startedAt: startedAt}
}

// GetStatus responds with the manager configuration and pool counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	mgr := h.svc.Manager()

	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	status := map[string]any{
		"initialized":      mgr.Initialized(),
		"owner":            mgr.Owner().Hex(),
		"fee_basis_points": mgr.FeeBasisPoints(),
		"minimum_stake":    mgr.MinimumStake().String(),
		"pool_count":       mgr.PoolCount(),
		"feed_count":       len(mgr.Feeds()),
		"uptime_seconds":   uptime,
	}
	if mgr.Initialized() {
		status["resolver"] = mgr.Resolver().Hex()
		status["upkeep_id"] = mgr.UpkeepID().String()
	}
	writeJSON(w, http.StatusOK, status)
}
