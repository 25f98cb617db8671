package http

import (
	"net/http"
	"strings"

	"github.com/Strob0t/turnforge/internal/domain/event"
)

type eventsResponse struct {
	SessionID string              `json:"sessionId"`
	Events    []event.StoredEvent `json:"events"`
}

// ListEvents handles GET /api/v1/sessions/{id}/events?from=&to=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	rng, err := sequenceRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.Events.GetEvents(r.Context(), sessionID, rng)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{SessionID: sessionID, Events: nonNil(events)})
}

// ListUnprocessedEvents handles GET /api/v1/sessions/{id}/events/unprocessed
func (h *Handlers) ListUnprocessedEvents(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	events, err := h.Events.GetUnprocessedEvents(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{SessionID: sessionID, Events: nonNil(events)})
}

// MarkEventProcessed handles POST /api/v1/events/{id}/processed
func (h *Handlers) MarkEventProcessed(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(urlParam(r, "id"))
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	if err := h.Events.MarkAsProcessed(r.Context(), eventID); err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil(events []event.StoredEvent) []event.StoredEvent {
	if events == nil {
		return []event.StoredEvent{}
	}
	return events
}
