package event

import (
	"encoding/json"
	"time"
)

// StoredType identifies the kind of a durable event-log record.
type StoredType string

const (
	StoredUserMessage        StoredType = "user_message_sent"
	StoredAgentMessage       StoredType = "agent_message_sent"
	StoredThinking           StoredType = "agent_thinking_block"
	StoredToolUseRequested   StoredType = "tool_use_requested"
	StoredToolUseCompleted   StoredType = "tool_use_completed"
	StoredCitationsExtracted StoredType = "citations_extracted"
	StoredErrorOccurred      StoredType = "error_occurred"
)

// StoredEvent is one immutable row of a session's append-only event log.
// SequenceNumber is per-session and independent of a turn's EventIndex.
type StoredEvent struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	EventType      StoredType      `json:"event_type"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
	Processed      bool            `json:"processed"`
}

// SequenceRange bounds a query by sequence number. Nil bounds are open; set
// bounds are inclusive.
type SequenceRange struct {
	From *int64 `json:"from,omitempty"`
	To   *int64 `json:"to,omitempty"`
}

// Contains reports whether seq lies inside the range.
func (r SequenceRange) Contains(seq int64) bool {
	if r.From != nil && seq < *r.From {
		return false
	}
	if r.To != nil && seq > *r.To {
		return false
	}
	return true
}
