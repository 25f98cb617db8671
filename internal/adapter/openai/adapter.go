// Package openai implements a streamadapter.Adapter for OpenAI-style chat
// completion streams.
package openai

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
)

const providerName = stream.ProviderOpenAI

// Adapter normalizes OpenAI chat model events. One Adapter serves one turn.
type Adapter struct {
	blockIndex int
	now        func() time.Time
}

func newAdapter() *Adapter {
	return &Adapter{now: time.Now}
}

func (a *Adapter) Provider() stream.Provider { return providerName }

func (a *Adapter) Reset() { a.blockIndex = 0 }

func (a *Adapter) ProcessChunk(raw agentgraph.RawEvent) *stream.NormalizedEvent {
	switch raw.Event {
	case agentgraph.EventChatModelStream:
		chunk, err := agentgraph.DecodeChunk(raw.Data.Chunk)
		if err != nil {
			slog.Debug("openai: skipping undecodable chunk", "error", err)
			return nil
		}
		return a.emit(classify(chunk), false)
	case agentgraph.EventChatModelEnd:
		out, err := agentgraph.DecodeChunk(raw.Data.Output)
		if err != nil {
			return nil
		}
		return a.emit(usage(out), true)
	default:
		return nil
	}
}

func (a *Adapter) emit(ev *stream.NormalizedEvent, final bool) *stream.NormalizedEvent {
	if ev == nil {
		return nil
	}
	ev.Provider = providerName
	ev.Timestamp = a.now().UTC()
	ev.Metadata = stream.Metadata{BlockIndex: a.blockIndex, IsStreaming: !final, IsFinal: final}
	a.blockIndex++
	return ev
}

func classify(chunk *agentgraph.ChatChunk) *stream.NormalizedEvent {
	text := agentgraph.TextOf(chunk.Content)
	if text != "" {
		return &stream.NormalizedEvent{Type: stream.TypeContentDelta, Content: text}
	}

	if r := reasoningOf(chunk); r != "" {
		return &stream.NormalizedEvent{Type: stream.TypeReasoningDelta, Reasoning: r}
	}

	// Streamed tool calls arrive as fragments; only complete ones carry both
	// an id and a name.
	for _, tc := range chunk.ToolCalls {
		if tc.ID != "" && tc.Name != "" {
			return &stream.NormalizedEvent{
				Type:     stream.TypeToolCall,
				ToolCall: &stream.ToolCall{ID: tc.ID, Name: tc.Name, Input: agentgraph.DecodeArgs(tc.Args)},
			}
		}
	}
	return nil
}

func reasoningOf(chunk *agentgraph.ChatChunk) string {
	if s, ok := chunk.AdditionalKwargs["reasoning_content"].(string); ok && s != "" {
		return s
	}
	var b strings.Builder
	for i := range chunk.Content.Blocks {
		blk := &chunk.Content.Blocks[i]
		if blk.Type != "reasoning" {
			continue
		}
		for _, s := range blk.Summary {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func usage(out *agentgraph.ChatChunk) *stream.NormalizedEvent {
	u := out.UsageMetadata
	if u == nil {
		u = out.ResponseMetadata.Usage
	}
	reason := out.ResponseMetadata.FinishReason
	if u == nil && reason == "" {
		return nil
	}
	ev := &stream.NormalizedEvent{Type: stream.TypeUsage, Usage: &stream.Usage{StopReason: reason}}
	if u != nil {
		ev.Usage.InputTokens = u.InputTokens
		ev.Usage.OutputTokens = u.OutputTokens
	}
	return ev
}

// NormalizeStopReason maps OpenAI finish reasons onto complete reasons.
func (a *Adapter) NormalizeStopReason(raw string) event.CompleteReason {
	switch raw {
	case "stop", "tool_calls", "function_call":
		return event.ReasonSuccess
	case "length", "recursion_limit", "max_iterations":
		return event.ReasonMaxTurns
	case "content_filter":
		return event.ReasonError
	case "cancelled", "aborted":
		return event.ReasonUserCancelled
	default:
		return event.ReasonSuccess
	}
}
