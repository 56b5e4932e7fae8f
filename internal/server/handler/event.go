package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// EventReplayer replays the settlement event stream.
type EventReplayer interface {
	Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the event replay endpoint.
type EventHandler struct {
	events EventReplayer
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReplayer, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// Replay returns settlement events recorded after the given stream ID.
// GET /api/events?after=<id>&limit=100
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	msgs, err := h.events.Replay(r.Context(), q.Get("after"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []domain.StreamMessage{}
	}
	next := q.Get("after")
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": msgs, "next": next})
}
