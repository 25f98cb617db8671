// Package conversation holds the durable message records of a session.
package conversation

import (
	"encoding/json"
	"time"
)

// Role is the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType distinguishes the records sharing the messages table.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeThinking MessageType = "thinking"
	TypeToolUse  MessageType = "tool_use"
)

// Message is a durable message row. EventID and SequenceNumber link it to the
// event-log record written in the same persistence call.
type Message struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	EventID        string          `json:"event_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Role           Role            `json:"role"`
	Type           MessageType     `json:"message_type"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	ToolUseID      string          `json:"tool_use_id,omitempty"`
	StopReason     string          `json:"stop_reason,omitempty"`
	TokensIn       int             `json:"tokens_in,omitempty"`
	TokensOut      int             `json:"tokens_out,omitempty"`
	Model          string          `json:"model,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Citation is a source reference extracted from an assistant message.
type Citation struct {
	MessageID     string `json:"message_id"`
	Text          string `json:"text"`
	Source        string `json:"source"`
	DocumentIndex *int   `json:"document_index,omitempty"`
	Location      string `json:"location,omitempty"`
}

// TokenUsage counts tokens across every model call of a turn.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates one model call into t.
func (t *TokenUsage) Add(in, out int) {
	t.InputTokens += in
	t.OutputTokens += out
}
