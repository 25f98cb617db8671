// Package streamadapter defines the per-provider stream normalization port and
// the registry that selects an implementation by provider name.
package streamadapter

import (
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
)

// Adapter converts raw runtime events of one provider into normalized events.
// An Adapter holds per-turn state and must not be shared between concurrent turns.
type Adapter interface {
	// Provider returns the provider this adapter understands.
	Provider() stream.Provider

	// ProcessChunk returns the normalized form of raw, or nil when raw carries
	// nothing for the normalized algebra. The block index advances only when a
	// non-nil event is returned.
	ProcessChunk(raw agentgraph.RawEvent) *stream.NormalizedEvent

	// Reset zeroes the block index and any accumulated state. Call it at the
	// start of every turn.
	Reset()

	// NormalizeStopReason maps a provider stop reason onto the canonical set.
	// Unknown values map to success.
	NormalizeStopReason(raw string) event.CompleteReason
}
