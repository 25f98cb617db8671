package messagequeue

import (
	"encoding/json"
	"time"
)

// TurnCompletedPayload is the schema for sessions.turn.completed messages.
type TurnCompletedPayload struct {
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id,omitempty"`
	Reason       string `json:"reason"`
	EventCount   int    `json:"event_count"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMs   int64  `json:"duration_ms"`
}

// SessionEventPayload is the schema for sessions.events.{sessionId} messages.
type SessionEventPayload struct {
	EventID        string          `json:"event_id"`
	SessionID      string          `json:"session_id"`
	EventType      string          `json:"event_type"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
}
