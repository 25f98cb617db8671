package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/port/database"
	"github.com/Strob0t/turnforge/internal/port/eventstore"
)

// EventStore is the append-only per-session event log.
type EventStore struct {
	repo  database.EventRepository
	seq   *SequenceAllocator
	clock *event.Clock
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates an EventStore over repo, numbering events with seq.
func NewEventStore(repo database.EventRepository, seq *SequenceAllocator, clock *event.Clock) *EventStore {
	if clock == nil {
		clock = event.NewClock()
	}
	return &EventStore{repo: repo, seq: seq, clock: clock}
}

// AppendEvent encodes data, allocates the next sequence number and writes one
// row. It does not retry a failed write.
func (s *EventStore) AppendEvent(ctx context.Context, sessionID string, eventType event.StoredType, data any) (*event.StoredEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("append %s: session id is required", eventType)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("append %s: encode data: %w", eventType, err)
	}

	seq, err := s.seq.Next(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", eventType, err)
	}

	ev := &event.StoredEvent{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		EventType:      eventType,
		SequenceNumber: seq,
		Timestamp:      s.clock.Now(),
		Data:           payload,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append %s: %w", eventType, err)
	}
	return ev, nil
}

// GetEvents returns the session's events in sequence order within r.
func (s *EventStore) GetEvents(ctx context.Context, sessionID string, r event.SequenceRange) ([]event.StoredEvent, error) {
	events, err := s.repo.ListEvents(ctx, sessionID, r)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return events, nil
}

// ReplayEvents calls handler for every event of the session in sequence
// order. A handler error stops the replay and is returned.
func (s *EventStore) ReplayEvents(ctx context.Context, sessionID string, handler eventstore.ReplayHandler) error {
	events, err := s.GetEvents(ctx, sessionID, event.SequenceRange{})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for i := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(events[i]); err != nil {
			return fmt.Errorf("replay handler at sequence %d: %w", events[i].SequenceNumber, err)
		}
	}
	return nil
}

// GetUnprocessedEvents returns events not yet marked processed, oldest first.
func (s *EventStore) GetUnprocessedEvents(ctx context.Context, sessionID string) ([]event.StoredEvent, error) {
	events, err := s.repo.ListUnprocessedEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get unprocessed events: %w", err)
	}
	return events, nil
}

// MarkAsProcessed flips the processed flag. Repeated calls are harmless.
func (s *EventStore) MarkAsProcessed(ctx context.Context, eventID string) error {
	if err := s.repo.MarkEventProcessed(ctx, eventID); err != nil {
		return fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return nil
}
