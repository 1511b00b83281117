package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/orcbet/internal/oracle"
)

// OracleHandler accepts observations for the manual price oracle. It is
// registered only in deployments running the manual oracle adapter.
type OracleHandler struct {
	oracle *oracle.Manual
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(o *oracle.Manual, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracle: o,
		logger: logHandler(logger, "oracle"),
	}
}

// PostObservation records a feed observation. An empty observed_at defaults
// to now.
// POST /api/oracle/observations
func (h *OracleHandler) PostObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feed       string    `json:"feed"`
		Value      string    `json:"value"`
		ObservedAt time.Time `json:"observed_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	feed, ok := parseAddress(req.Feed)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid feed address")
		return
	}
	// Observed values may legitimately be negative.
	value, ok := new(big.Int).SetString(req.Value, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid value")
		return
	}
	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	h.oracle.Post(feed, value, observedAt)

	h.logger.Info("observation posted",
		slog.String("feed", feed.Hex()),
		slog.String("value", value.String()),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"feed":        feed.Hex(),
		"value":       value.String(),
		"observed_at": observedAt,
	})
}
