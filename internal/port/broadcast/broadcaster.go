// Package broadcast defines the port for pushing agent events to connected clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/turnforge/internal/domain/event"
)

// Broadcaster delivers agent events to the clients watching a session.
type Broadcaster interface {
	// SendToSession writes ev to every client subscribed to sessionID.
	// Delivery is best effort; a slow or gone client never blocks the turn.
	SendToSession(ctx context.Context, sessionID string, ev event.AgentEvent)
}

// Emitter adapts b into an event.Emitter bound to one session.
func Emitter(ctx context.Context, b Broadcaster, sessionID string) event.Emitter {
	return func(ev event.AgentEvent) {
		b.SendToSession(ctx, sessionID, ev)
	}
}

// Tee returns an emitter that forwards every event to each non-nil emitter in order.
func Tee(emitters ...event.Emitter) event.Emitter {
	return func(ev event.AgentEvent) {
		for _, emit := range emitters {
			if emit != nil {
				emit(ev)
			}
		}
	}
}
