package service

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"log/slog"

	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
	"github.com/Strob0t/turnforge/internal/port/streamadapter"
)

// DefaultGraphName is the name the runtime gives the top-level graph in its
// chain events.
const DefaultGraphName = "LangGraph"

// graphEndNode is the synthetic node that terminates a graph run.
const graphEndNode = "__end__"

// StreamRouter turns the runtime's raw event stream into routed events:
// normalized model output from the adapter, and tool execution batches
// reported by agent nodes. Everything else is dropped. Output order matches
// input order.
type StreamRouter struct {
	graphName string
}

// NewStreamRouter creates a router. graphName identifies the top-level graph,
// whose completion is never treated as an agent node.
func NewStreamRouter(graphName string) *StreamRouter {
	if graphName == "" {
		graphName = DefaultGraphName
	}
	return &StreamRouter{graphName: graphName}
}

// Route consumes raw and yields routed events. An error from raw, or the
// context ending, is yielded once and ends the sequence.
func (r *StreamRouter) Route(ctx context.Context, raw iter.Seq2[agentgraph.RawEvent, error], adapter streamadapter.Adapter) iter.Seq2[stream.RoutedEvent, error] {
	return func(yield func(stream.RoutedEvent, error) bool) {
		for ev, err := range raw {
			if err != nil {
				yield(stream.RoutedEvent{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(stream.RoutedEvent{}, err)
				return
			}

			if n := adapter.ProcessChunk(ev); n != nil {
				if !yield(stream.RoutedEvent{Kind: stream.RoutedNormalized, Event: n}, nil) {
					return
				}
				continue
			}

			if execs := r.toolExecutions(ev); len(execs) > 0 {
				routed := stream.RoutedEvent{
					Kind:       stream.RoutedToolExecutions,
					AgentName:  ev.Name,
					Executions: execs,
				}
				if !yield(routed, nil) {
					return
				}
			}
		}
	}
}

// nodeOutput is the part of an agent node's chain output the router reads.
type nodeOutput struct {
	ToolExecutions []agentgraph.RawToolExecution `json:"toolExecutions"`
}

func (r *StreamRouter) toolExecutions(ev agentgraph.RawEvent) []stream.ToolExecutionRecord {
	if ev.Event != agentgraph.EventChainEnd || ev.Name == r.graphName || ev.Name == graphEndNode {
		return nil
	}
	output := bytes.TrimSpace(ev.Data.Output)
	if len(output) == 0 || output[0] != '{' {
		return nil
	}

	var out nodeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		slog.Debug("router: chain output without readable tool executions", "node", ev.Name, "error", err)
		return nil
	}
	if len(out.ToolExecutions) == 0 {
		return nil
	}

	records := make([]stream.ToolExecutionRecord, 0, len(out.ToolExecutions))
	for _, raw := range out.ToolExecutions {
		records = append(records, toolExecutionRecord(raw))
	}
	return records
}

// toolExecutionRecord applies the defaults for fields an agent node left out:
// empty name and result, empty args, success true.
func toolExecutionRecord(raw agentgraph.RawToolExecution) stream.ToolExecutionRecord {
	rec := stream.ToolExecutionRecord{
		ToolUseID: raw.ToolUseID,
		Args:      agentgraph.DecodeArgs(raw.Args),
		Success:   true,
		Error:     raw.Error,
	}
	if raw.ToolName != nil {
		rec.ToolName = *raw.ToolName
	}
	if text, ok := agentgraph.DecodeResult(raw.Result); ok {
		rec.Result = text
	}
	if raw.Success != nil {
		rec.Success = *raw.Success
	}
	return rec
}
