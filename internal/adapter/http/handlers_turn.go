package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/turnforge/internal/domain"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/broadcast"
	"github.com/Strob0t/turnforge/internal/service"
)

const contentTypeNDJSON = "application/x-ndjson"

// turnRequest is the body of POST /api/v1/sessions/{id}/turns.
type turnRequest struct {
	Prompt                   string   `json:"prompt" jsonschema:"required"`
	UserID                   string   `json:"userId,omitempty"`
	EnableThinking           bool     `json:"enableThinking,omitempty"`
	ThinkingBudget           int      `json:"thinkingBudget,omitempty"`
	Attachments              []string `json:"attachments,omitempty"`
	EnableAutoSemanticSearch bool     `json:"enableAutoSemanticSearch,omitempty"`
	Mode                     string   `json:"mode,omitempty" jsonschema:"enum=stream,enum=invoke"`
	Provider                 string   `json:"provider,omitempty" jsonschema:"enum=anthropic,enum=openai"`
}

// turnResult is the last NDJSON line of a streamed turn.
type turnResult struct {
	Type   string                 `json:"type"`
	Result *service.ExecuteResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// ExecuteTurn handles POST /api/v1/sessions/{id}/turns. With
// Accept: application/x-ndjson every agent event is written as one line and
// flushed as it happens; otherwise the summary is returned as JSON when the
// turn ends. Events are pushed to WebSocket watchers of the session either way.
func (h *Handlers) ExecuteTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[turnRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	opts := service.ExecuteOptions{
		EnableThinking:           req.EnableThinking,
		ThinkingBudget:           req.ThinkingBudget,
		Attachments:              req.Attachments,
		EnableAutoSemanticSearch: req.EnableAutoSemanticSearch,
		Mode:                     req.Mode,
		Provider:                 stream.Provider(req.Provider),
	}

	var watchers event.Emitter
	if h.Hub != nil {
		watchers = broadcast.Emitter(r.Context(), h.Hub, sessionID)
	}

	if !strings.Contains(r.Header.Get("Accept"), contentTypeNDJSON) {
		res, err := h.Orchestrator.ExecuteAgentSync(r.Context(), req.Prompt, sessionID, watchers, req.UserID, opts)
		if err != nil {
			writeTurnError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	nd := newNDJSONWriter(w)
	emit := broadcast.Tee(watchers, nd.event)
	res, err := h.Orchestrator.ExecuteAgentSync(r.Context(), req.Prompt, sessionID, emit, req.UserID, opts)
	if err != nil && !nd.started {
		writeTurnError(w, err)
		return
	}
	if err != nil {
		nd.line(turnResult{Type: "result", Error: err.Error()})
		return
	}
	nd.line(turnResult{Type: "result", Result: res})
}

// writeTurnError maps a failed turn onto a status code. Errors raised before
// the turn started are the caller's; anything later is the runtime's.
func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUserIDRequired):
		writeDomainError(w, err, "")
	default:
		slog.Error("turn failed", "error", err)
		writeError(w, http.StatusBadGateway, "agent turn failed")
	}
}

// ndjsonWriter streams one JSON value per line. The header is written with
// the first line so pre-turn failures can still use a proper status code.
type ndjsonWriter struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w)}
}

func (n *ndjsonWriter) event(ev event.AgentEvent) {
	data, err := event.Marshal(ev)
	if err != nil {
		slog.Error("marshal turn event", "type", ev.Type(), "error", err)
		return
	}
	n.line(json.RawMessage(data))
}

func (n *ndjsonWriter) line(v any) {
	if !n.started {
		n.w.Header().Set("Content-Type", contentTypeNDJSON)
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := n.enc.Encode(v); err != nil {
		slog.Debug("ndjson write failed", "error", err)
		return
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
}
