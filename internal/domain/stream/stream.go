// Package stream defines the provider-agnostic representation of streamed
// model output and the routed events consumed by the orchestrator.
package stream

import "time"

// Provider names an upstream model provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NormalizedType is the kind of a NormalizedEvent.
type NormalizedType string

const (
	TypeContentDelta   NormalizedType = "content_delta"
	TypeReasoningDelta NormalizedType = "reasoning_delta"
	TypeToolCall       NormalizedType = "tool_call"
	TypeUsage          NormalizedType = "usage"
	TypeCitation       NormalizedType = "citation"
)

// ToolCall is a tool invocation requested by the model. ID is the provider's
// own call identifier.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Usage reports token counts for one model call.
type Usage struct {
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	StopReason   string `json:"stopReason,omitempty"`
}

// CitationLocation points into the cited document.
type CitationLocation struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Citation is a source reference attached to generated text.
type Citation struct {
	Text          string            `json:"text"`
	Source        string            `json:"source"`
	DocumentIndex *int              `json:"documentIndex,omitempty"`
	Location      *CitationLocation `json:"location,omitempty"`
}

// Metadata describes where a normalized event sits in the stream.
type Metadata struct {
	BlockIndex  int  `json:"blockIndex"`
	IsStreaming bool `json:"isStreaming"`
	IsFinal     bool `json:"isFinal"`
}

// NormalizedEvent is one piece of model output in provider-agnostic form.
// Exactly one payload field matching Type is set; content deltas may also
// carry Citations.
type NormalizedEvent struct {
	Type      NormalizedType `json:"type"`
	Provider  Provider       `json:"provider"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	ToolCall  *ToolCall      `json:"toolCall,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
	Citation  *Citation      `json:"citation,omitempty"`
	Citations []Citation     `json:"citations,omitempty"`
	Metadata  Metadata       `json:"metadata"`
}

// ToolExecutionRecord is one tool call executed by an inner agent node.
type ToolExecutionRecord struct {
	ToolUseID string         `json:"toolUseId"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

// RoutedKind discriminates RoutedEvent.
type RoutedKind string

const (
	RoutedNormalized     RoutedKind = "normalized"
	RoutedToolExecutions RoutedKind = "tool_executions"
)

// RoutedEvent is either a normalized content event or a batch of tool
// executions reported by an agent node.
type RoutedEvent struct {
	Kind       RoutedKind
	Event      *NormalizedEvent
	AgentName  string
	Executions []ToolExecutionRecord
}
