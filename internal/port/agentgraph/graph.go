// Package agentgraph defines the port to the agent-graph execution runtime
// (supervisor plus worker agents) and its wire shapes.
package agentgraph

import (
	"context"
	"encoding/json"
	"iter"
)

// Input is the per-turn request sent to the runtime.
type Input struct {
	SessionID                string   `json:"session_id"`
	UserID                   string   `json:"user_id,omitempty"`
	Prompt                   string   `json:"prompt"`
	EnableThinking           bool     `json:"enable_thinking,omitempty"`
	ThinkingBudget           int      `json:"thinking_budget,omitempty"`
	Attachments              []string `json:"attachments,omitempty"`
	EnableAutoSemanticSearch bool     `json:"enable_auto_semantic_search,omitempty"`
}

// Executor runs one turn against the agent graph, either in one shot or as a
// stream of raw runtime events.
type Executor interface {
	Invoke(ctx context.Context, in Input) (*Result, error)

	// StreamEvents yields raw events in runtime order. A non-nil error ends
	// the sequence.
	StreamEvents(ctx context.Context, in Input) iter.Seq2[RawEvent, error]
}

// Result is the materialized outcome of Invoke.
type Result struct {
	Messages       []Message          `json:"messages"`
	ToolExecutions []RawToolExecution `json:"toolExecutions"`
}

// Message roles as reported by the runtime.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
	RoleTool  = "tool"
)

// Message is one entry of the graph's message list.
type Message struct {
	Role             string           `json:"type"`
	Name             string           `json:"name,omitempty"`
	Content          Content          `json:"content"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	UsageMetadata    *UsageMetadata   `json:"usage_metadata,omitempty"`
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
}

// UsageMetadata carries token counts.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseMetadata carries provider response details.
type ResponseMetadata struct {
	StopReason   string         `json:"stop_reason,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Model        string         `json:"model,omitempty"`
	Usage        *UsageMetadata `json:"usage,omitempty"`
}

// Content is either a plain string or a list of structured blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// UnmarshalJSON accepts a JSON string, an array of blocks, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = Content{}
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Blocks)
}

// MarshalJSON writes blocks when present, else the plain string.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// ContentBlock is one structured content element.
type ContentBlock struct {
	Type        string            `json:"type"`
	Index       *int              `json:"index,omitempty"`
	Text        string            `json:"text,omitempty"`
	Thinking    string            `json:"thinking,omitempty"`
	Signature   string            `json:"signature,omitempty"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Input       json.RawMessage   `json:"input,omitempty"`
	PartialJSON string            `json:"partial_json,omitempty"`
	Citations   []json.RawMessage `json:"citations,omitempty"`
	Summary     []ContentBlock    `json:"summary,omitempty"`
}

// RawEvent is one event of the runtime's event stream.
type RawEvent struct {
	Event    string         `json:"event"`
	Name     string         `json:"name"`
	RunID    string         `json:"run_id,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Data     RawEventData   `json:"data"`
}

// RawEventData is the event payload; which fields are set depends on Event.
type RawEventData struct {
	Chunk  json.RawMessage `json:"chunk,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Runtime event names the stream adapters and router look at.
const (
	EventChatModelStream = "on_chat_model_stream"
	EventChatModelEnd    = "on_chat_model_end"
	EventChainEnd        = "on_chain_end"
)

// RawToolExecution is a tool execution as reported by an agent node. Fields
// may be missing; consumers apply defaults.
type RawToolExecution struct {
	ToolUseID string          `json:"toolUseId"`
	ToolName  *string         `json:"toolName,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ChatChunk is the message chunk carried by chat model stream and end events.
type ChatChunk struct {
	Content          Content          `json:"content"`
	ToolCalls        []ChunkToolCall  `json:"tool_calls,omitempty"`
	AdditionalKwargs map[string]any   `json:"additional_kwargs,omitempty"`
	UsageMetadata    *UsageMetadata   `json:"usage_metadata,omitempty"`
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
}

// ChunkToolCall is a tool call attached to a chunk in OpenAI-style streams.
type ChunkToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}
