// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"

	"github.com/Strob0t/turnforge/internal/domain/keyspace"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by turnforge.
const (
	SubjectTurnCompleted = "sessions.turn.completed" // orchestrator → relay: a turn reached its terminal event
	SubjectSessionEvents = "sessions.events"         // sessions.events.{sessionId}: relayed stored events
)

// SessionEventsSubject returns the per-session subject stored events are
// relayed to. The session ID is escaped into a single subject token.
func SessionEventsSubject(sessionID string) string {
	return SubjectSessionEvents + "." + keyspace.Token(sessionID)
}

// HeaderRequestID carries the request ID across the queue.
const HeaderRequestID = "X-Request-ID"
