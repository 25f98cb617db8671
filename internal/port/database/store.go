// Package database defines the durable storage ports (interfaces).
package database

import (
	"context"

	"github.com/Strob0t/turnforge/internal/domain/conversation"
	"github.com/Strob0t/turnforge/internal/domain/event"
)

// EventRepository persists rows of the per-session event log. Every query is
// scoped to one session; there is no global scan.
type EventRepository interface {
	// InsertEvent writes ev as-is. The caller assigns ID and SequenceNumber.
	InsertEvent(ctx context.Context, ev *event.StoredEvent) error

	// NextSequence returns max(sequence_number)+1 for the session, or 0 when
	// the session has no rows.
	NextSequence(ctx context.Context, sessionID string) (int64, error)

	// ListEvents returns the session's events ordered by sequence number.
	ListEvents(ctx context.Context, sessionID string, r event.SequenceRange) ([]event.StoredEvent, error)

	// ListUnprocessedEvents returns unprocessed events ordered by timestamp.
	ListUnprocessedEvents(ctx context.Context, sessionID string) ([]event.StoredEvent, error)

	// MarkEventProcessed sets processed=true. Marking twice is not an error.
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// MessageStore persists conversation messages and their citations.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]conversation.Message, error)
	CreateCitations(ctx context.Context, citations []conversation.Citation) error
}
