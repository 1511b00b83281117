package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/service"
)

// EventsHandler replays the durable event stream so consumers that missed
// pub/sub messages can catch up.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logHandler(logger, "events"),
	}
}

// ListStream reads event envelopes from the stream after the given id.
// The "after" parameter is a stream entry id; "0" (the default) replays from
// the beginning, subject to the stream's retention cap.
// GET /api/events?after=<stream-id>&limit=<n>
func (h *EventsHandler) ListStream(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)

	msgs, err := h.bus.StreamRead(r.Context(), service.EventsStream, after, opts.Limit)
	if err != nil {
		h.logger.Error("stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "stream read failed")
		return
	}

	views := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, map[string]any{
			"stream_id": m.ID,
			"event":     json.RawMessage(m.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"count":  len(views),
	})
}
