package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "turnforge"

// StartTurnSpan starts a span for one agent turn.
func StartTurnSpan(ctx context.Context, sessionID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.mode", mode),
		),
	)
}

// StartPersistSpan starts a span for a synchronous persistence write.
func StartPersistSpan(ctx context.Context, sessionID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "persist",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("event.type", eventType),
		),
	)
}
