package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// StreamReader reads the durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler replays execution events from the bus stream.
type EventHandler struct {
	bus    StreamReader
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler over stream.
func NewEventHandler(bus StreamReader, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, stream: stream, logger: logHandler(logger, "events")}
}

type eventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns events after the given stream id.
// GET /api/events?after=0&limit=50
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	views := make([]eventView, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		views = append(views, eventView{ID: m.ID, Event: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views, "next": next})
}
