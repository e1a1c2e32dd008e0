package handler

import (
	"log/slog"
	"net/http"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/token"
)

// EventsHandler serves levy observation history.
type EventsHandler struct {
	events domain.LevyEventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler with the given store and logger.
func NewEventsHandler(events domain.LevyEventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logger}
}

// listEventsResponse wraps the event list output with metadata.
type listEventsResponse struct {
	Events []token.EventPayload `json:"events"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListEvents returns levy observations, optionally filtered by kind
// (tax_collected or liquidity_added).
// GET /api/events?kind=tax_collected&limit=50
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event history not enabled")
		return
	}

	kind := domain.LevyEventKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", domain.EventTaxCollected, domain.EventLiquidityAdded:
	default:
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}

	opts := parseListOpts(r)
	events, err := h.events.List(r.Context(), kind, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	payloads := make([]token.EventPayload, 0, len(events))
	for _, ev := range events {
		payloads = append(payloads, token.NewEventPayload(ev))
	}
	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: payloads,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
