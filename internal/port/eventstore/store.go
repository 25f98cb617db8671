// Package eventstore defines the port interface for the append-only event store.
package eventstore

import (
	"context"

	"github.com/Strob0t/turnforge/internal/domain/event"
)

// ReplayHandler is invoked once per event during a replay. Returning an error
// stops the replay.
type ReplayHandler func(ev event.StoredEvent) error

// Store is the port interface for appending and loading session events.
type Store interface {
	// AppendEvent allocates the next sequence number for the session, encodes
	// data as JSON and durably writes one row. It does not retry.
	AppendEvent(ctx context.Context, sessionID string, eventType event.StoredType, data any) (*event.StoredEvent, error)

	// GetEvents returns events ordered by sequence number, optionally bounded
	// by an inclusive range.
	GetEvents(ctx context.Context, sessionID string, r event.SequenceRange) ([]event.StoredEvent, error)

	// ReplayEvents calls handler for every event of the session in sequence order.
	ReplayEvents(ctx context.Context, sessionID string, handler ReplayHandler) error

	// GetUnprocessedEvents returns events with processed=false ordered by timestamp.
	GetUnprocessedEvents(ctx context.Context, sessionID string) ([]event.StoredEvent, error)

	// MarkAsProcessed flips processed to true. It is idempotent.
	MarkAsProcessed(ctx context.Context, eventID string) error
}
