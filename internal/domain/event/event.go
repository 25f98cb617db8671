// Package event defines the client-visible agent event algebra emitted during a
// turn and the stored event records of the per-session append-only log.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of agent event.
type Type string

const (
	TypeSessionStart         Type = "session_start"
	TypeUserMessageConfirmed Type = "user_message_confirmed"
	TypeThinkingComplete     Type = "thinking_complete"
	TypeToolUse              Type = "tool_use"
	TypeToolResult           Type = "tool_result"
	TypeMessageChunk         Type = "message_chunk"
	TypeMessage              Type = "message"
	TypeComplete             Type = "complete"
	TypeError                Type = "error"
)

// PersistenceState tells a client whether the event's data is durably recorded yet.
type PersistenceState string

const (
	StateTransient PersistenceState = "transient"
	StatePending   PersistenceState = "pending"
	StatePersisted PersistenceState = "persisted"
)

// CompleteReason is the canonical reason carried by a complete event.
type CompleteReason string

const (
	ReasonSuccess       CompleteReason = "success"
	ReasonError         CompleteReason = "error"
	ReasonMaxTurns      CompleteReason = "max_turns"
	ReasonUserCancelled CompleteReason = "user_cancelled"
)

// Valid reports whether r is one of the four canonical reasons.
func (r CompleteReason) Valid() bool {
	switch r {
	case ReasonSuccess, ReasonError, ReasonMaxTurns, ReasonUserCancelled:
		return true
	}
	return false
}

// ErrInvalidEvent is wrapped by every Validate failure.
var ErrInvalidEvent = errors.New("invalid agent event")

// AgentEvent is the closed sum of events emitted by one turn. Only the
// variants declared in this package implement it.
type AgentEvent interface {
	Type() Type
	Base() *Envelope
	Validate() error
	agentEvent()
}

// Emitter receives events in emission order.
type Emitter func(AgentEvent)

// Envelope carries the fields shared by every variant.
type Envelope struct {
	EventID          string           `json:"eventId"`
	SessionID        string           `json:"sessionId"`
	Timestamp        time.Time        `json:"timestamp"`
	EventIndex       int              `json:"eventIndex"`
	PersistenceState PersistenceState `json:"persistenceState"`
}

// Base returns the shared envelope.
func (e *Envelope) Base() *Envelope { return e }

func (e *Envelope) validate(t Type, allowed ...PersistenceState) error {
	switch {
	case e.EventID == "":
		return invalid(t, "eventId is required")
	case e.SessionID == "":
		return invalid(t, "sessionId is required")
	case e.Timestamp.IsZero():
		return invalid(t, "timestamp is required")
	case e.EventIndex < 0:
		return invalid(t, "eventIndex must be >= 0")
	}
	for _, s := range allowed {
		if e.PersistenceState == s {
			return nil
		}
	}
	return invalid(t, fmt.Sprintf("persistenceState %q not allowed", e.PersistenceState))
}

func invalid(t Type, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, t, msg)
}

// Persisted identifies the durable record behind a persisted event.
type Persisted struct {
	SequenceNumber int64  `json:"sequenceNumber"`
	MessageID      string `json:"messageId,omitempty"`
}

// SessionStart opens every turn.
type SessionStart struct {
	Envelope
	UserID string `json:"userId,omitempty"`
}

// UserMessageConfirmed is emitted once the user prompt is durably stored.
type UserMessageConfirmed struct {
	Envelope
	Content        string `json:"content"`
	MessageID      string `json:"messageId"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

// ThinkingComplete carries one finished reasoning block.
type ThinkingComplete struct {
	Envelope
	Content        string `json:"content"`
	SequenceNumber *int64 `json:"sequenceNumber,omitempty"`
}

// ToolUse announces a tool invocation. It is always followed by its ToolResult.
type ToolUse struct {
	Envelope
	ToolUseID string         `json:"toolUseId"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args"`
}

// ToolResult closes the ToolUse with the same ToolUseID.
type ToolResult struct {
	Envelope
	ToolUseID string `json:"toolUseId"`
	ToolName  string `json:"toolName,omitempty"`
	Result    string `json:"result"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// MessageChunk is a streamed piece of assistant text.
type MessageChunk struct {
	Envelope
	Delta string `json:"delta"`
}

// Message is the final assistant message of a turn.
type Message struct {
	Envelope
	Content        string `json:"content"`
	Role           string `json:"role"`
	MessageID      string `json:"messageId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	StopReason     string `json:"stopReason,omitempty"`
}

// Complete is always the last event of a turn.
type Complete struct {
	Envelope
	Reason CompleteReason `json:"reason"`
}

// Error reports a failure inside a started turn.
type Error struct {
	Envelope
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (*SessionStart) Type() Type         { return TypeSessionStart }
func (*UserMessageConfirmed) Type() Type { return TypeUserMessageConfirmed }
func (*ThinkingComplete) Type() Type     { return TypeThinkingComplete }
func (*ToolUse) Type() Type              { return TypeToolUse }
func (*ToolResult) Type() Type           { return TypeToolResult }
func (*MessageChunk) Type() Type         { return TypeMessageChunk }
func (*Message) Type() Type              { return TypeMessage }
func (*Complete) Type() Type             { return TypeComplete }
func (*Error) Type() Type                { return TypeError }

func (*SessionStart) agentEvent()         {}
func (*UserMessageConfirmed) agentEvent() {}
func (*ThinkingComplete) agentEvent()     {}
func (*ToolUse) agentEvent()              {}
func (*ToolResult) agentEvent()           {}
func (*MessageChunk) agentEvent()         {}
func (*Message) agentEvent()              {}
func (*Complete) agentEvent()             {}
func (*Error) agentEvent()                {}

func (e *SessionStart) Validate() error {
	return e.validate(TypeSessionStart, StateTransient)
}

func (e *UserMessageConfirmed) Validate() error {
	if err := e.validate(TypeUserMessageConfirmed, StatePersisted); err != nil {
		return err
	}
	if e.MessageID == "" {
		return invalid(TypeUserMessageConfirmed, "messageId is required")
	}
	return nil
}

func (e *ThinkingComplete) Validate() error {
	if err := e.validate(TypeThinkingComplete, StateTransient, StatePending, StatePersisted); err != nil {
		return err
	}
	if e.PersistenceState == StatePersisted && e.SequenceNumber == nil {
		return invalid(TypeThinkingComplete, "persisted thinking requires sequenceNumber")
	}
	return nil
}

func (e *ToolUse) Validate() error {
	if err := e.validate(TypeToolUse, StateTransient); err != nil {
		return err
	}
	if e.ToolUseID == "" {
		return invalid(TypeToolUse, "toolUseId is required")
	}
	return nil
}

func (e *ToolResult) Validate() error {
	if err := e.validate(TypeToolResult, StatePending, StatePersisted); err != nil {
		return err
	}
	if e.ToolUseID == "" {
		return invalid(TypeToolResult, "toolUseId is required")
	}
	return nil
}

func (e *MessageChunk) Validate() error {
	return e.validate(TypeMessageChunk, StateTransient)
}

func (e *Message) Validate() error {
	if err := e.validate(TypeMessage, StatePersisted); err != nil {
		return err
	}
	if e.MessageID == "" {
		return invalid(TypeMessage, "messageId is required")
	}
	if e.Role != "assistant" {
		return invalid(TypeMessage, "role must be assistant")
	}
	return nil
}

func (e *Complete) Validate() error {
	if err := e.validate(TypeComplete, StateTransient); err != nil {
		return err
	}
	if !e.Reason.Valid() {
		return invalid(TypeComplete, fmt.Sprintf("unknown reason %q", e.Reason))
	}
	return nil
}

func (e *Error) Validate() error {
	if err := e.validate(TypeError, StateTransient); err != nil {
		return err
	}
	if e.Error == "" {
		return invalid(TypeError, "error message is required")
	}
	return nil
}

// Marshal encodes ev with its "type" discriminator as the first key.
func Marshal(ev AgentEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	head := []byte(`{"type":"` + string(ev.Type()) + `"`)
	if len(body) <= 2 {
		return append(head, '}'), nil
	}
	head = append(head, ',')
	return append(head, body[1:]...), nil
}
