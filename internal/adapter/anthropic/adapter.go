// Package anthropic implements a streamadapter.Adapter for Anthropic-style
// content block streams.
package anthropic

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
)

const providerName = stream.ProviderAnthropic

// Adapter normalizes Anthropic chat model events. One Adapter serves one turn.
type Adapter struct {
	blockIndex int
	now        func() time.Time
}

func newAdapter() *Adapter {
	return &Adapter{now: time.Now}
}

func (a *Adapter) Provider() stream.Provider { return providerName }

// Reset zeroes the block index.
func (a *Adapter) Reset() { a.blockIndex = 0 }

// ProcessChunk classifies one raw runtime event.
func (a *Adapter) ProcessChunk(raw agentgraph.RawEvent) *stream.NormalizedEvent {
	switch raw.Event {
	case agentgraph.EventChatModelStream:
		chunk, err := agentgraph.DecodeChunk(raw.Data.Chunk)
		if err != nil {
			slog.Debug("anthropic: skipping undecodable chunk", "error", err)
			return nil
		}
		return a.emit(a.classify(chunk), false)
	case agentgraph.EventChatModelEnd:
		out, err := agentgraph.DecodeChunk(raw.Data.Output)
		if err != nil {
			return nil
		}
		return a.emit(a.usage(out), true)
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
	ev.Metadata = stream.Metadata{
		BlockIndex:  a.blockIndex,
		IsStreaming: !final,
		IsFinal:     final,
	}
	a.blockIndex++
	return ev
}

func (a *Adapter) classify(chunk *agentgraph.ChatChunk) *stream.NormalizedEvent {
	if chunk.Content.Blocks == nil {
		if chunk.Content.Text == "" {
			return nil
		}
		return &stream.NormalizedEvent{Type: stream.TypeContentDelta, Content: chunk.Content.Text}
	}

	var (
		text      strings.Builder
		reasoning strings.Builder
		call      *stream.ToolCall
		citations []stream.Citation
	)
	for i := range chunk.Content.Blocks {
		b := &chunk.Content.Blocks[i]
		switch b.Type {
		case "text", "text_delta":
			text.WriteString(b.Text)
			citations = append(citations, parseCitations(b.Citations)...)
		case "thinking", "thinking_delta":
			reasoning.WriteString(b.Thinking)
		case "tool_use":
			if call == nil && b.ID != "" && b.Name != "" {
				call = &stream.ToolCall{ID: b.ID, Name: b.Name, Input: agentgraph.DecodeArgs(b.Input)}
			}
		case "citations_delta":
			citations = append(citations, parseCitations(b.Citations)...)
		}
		// signature, redacted_thinking and input_json_delta carry nothing
		// the normalized algebra represents.
	}

	switch {
	case text.Len() > 0:
		return &stream.NormalizedEvent{Type: stream.TypeContentDelta, Content: text.String(), Citations: citations}
	case reasoning.Len() > 0:
		return &stream.NormalizedEvent{Type: stream.TypeReasoningDelta, Reasoning: reasoning.String()}
	case call != nil:
		return &stream.NormalizedEvent{Type: stream.TypeToolCall, ToolCall: call}
	case len(citations) > 0:
		return &stream.NormalizedEvent{Type: stream.TypeCitation, Citation: &citations[0], Citations: citations}
	}
	return nil
}

func (a *Adapter) usage(out *agentgraph.ChatChunk) *stream.NormalizedEvent {
	u := out.UsageMetadata
	if u == nil {
		u = out.ResponseMetadata.Usage
	}
	if u == nil && out.ResponseMetadata.StopReason == "" {
		return nil
	}
	ev := &stream.NormalizedEvent{
		Type:  stream.TypeUsage,
		Usage: &stream.Usage{StopReason: out.ResponseMetadata.StopReason},
	}
	if u != nil {
		ev.Usage.InputTokens = u.InputTokens
		ev.Usage.OutputTokens = u.OutputTokens
	}
	return ev
}

// NormalizeStopReason maps Anthropic stop reasons onto complete reasons.
func (a *Adapter) NormalizeStopReason(raw string) event.CompleteReason {
	switch raw {
	case "end_turn", "tool_use", "stop_sequence", "pause_turn":
		return event.ReasonSuccess
	case "max_tokens", "model_context_window_exceeded", "recursion_limit", "max_iterations":
		return event.ReasonMaxTurns
	case "refusal":
		return event.ReasonError
	case "cancelled", "aborted":
		return event.ReasonUserCancelled
	default:
		return event.ReasonSuccess
	}
}
