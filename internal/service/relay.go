package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/turnforge/internal/port/eventstore"
	"github.com/Strob0t/turnforge/internal/port/messagequeue"
)

// EventRelay forwards a session's unprocessed stored events to
// sessions.events.{sessionId} once a turn completes, then marks them
// processed. Delivery is at-least-once: an event published but not yet
// marked is published again on the next relay of its session.
type EventRelay struct {
	store eventstore.Store
	queue messagequeue.Queue
}

// NewEventRelay creates a relay.
func NewEventRelay(store eventstore.Store, queue messagequeue.Queue) *EventRelay {
	return &EventRelay{store: store, queue: queue}
}

// Start subscribes to turn-completed messages. The returned function stops
// the subscription.
func (r *EventRelay) Start(ctx context.Context) (func(), error) {
	cancel, err := r.queue.Subscribe(ctx, messagequeue.SubjectTurnCompleted, r.handleTurnCompleted)
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	slog.Info("event relay started", "subject", messagequeue.SubjectTurnCompleted)
	return cancel, nil
}

func (r *EventRelay) handleTurnCompleted(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TurnCompletedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode turn completed: %w", err)
	}
	n, err := r.RelaySession(ctx, p.SessionID)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "relayed session events", "session_id", p.SessionID, "count", n)
	return nil
}

// RelaySession publishes every unprocessed event of sessionID in arrival
// order and returns how many were relayed. It stops at the first failure.
func (r *EventRelay) RelaySession(ctx context.Context, sessionID string) (int, error) {
	events, err := r.store.GetUnprocessedEvents(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("relay session %s: %w", sessionID, err)
	}

	subject := messagequeue.SessionEventsSubject(sessionID)
	for i := range events {
		ev := &events[i]
		data, err := json.Marshal(messagequeue.SessionEventPayload{
			EventID:        ev.ID,
			SessionID:      ev.SessionID,
			EventType:      string(ev.EventType),
			SequenceNumber: ev.SequenceNumber,
			Timestamp:      ev.Timestamp,
			Data:           ev.Data,
		})
		if err != nil {
			return i, fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		if err := r.queue.Publish(ctx, subject, data); err != nil {
			return i, fmt.Errorf("relay event %s: %w", ev.ID, err)
		}
		if err := r.store.MarkAsProcessed(ctx, ev.ID); err != nil {
			return i, err
		}
	}
	return len(events), nil
}
