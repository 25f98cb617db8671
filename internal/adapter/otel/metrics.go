package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "turnforge"

// Metrics holds all turnforge metric instruments.
type Metrics struct {
	TurnsStarted       metric.Int64Counter
	TurnsCompleted     metric.Int64Counter
	TurnsFailed        metric.Int64Counter
	ToolExecutions     metric.Int64Counter
	TurnDuration       metric.Float64Histogram
	SequenceFallbacks  metric.Int64Counter
	BackgroundFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("turnforge.turns.started",
		metric.WithDescription("Number of agent turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("turnforge.turns.completed",
		metric.WithDescription("Number of agent turns that emitted complete"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("turnforge.turns.failed",
		metric.WithDescription("Number of agent turns that ended in an error"))
	if err != nil {
		return nil, err
	}

	m.ToolExecutions, err = meter.Int64Counter("turnforge.tool_executions",
		metric.WithDescription("Number of tool executions reported by agent nodes"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("turnforge.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SequenceFallbacks, err = meter.Int64Counter("turnforge.sequence.fallbacks",
		metric.WithDescription("Sequence allocations served by the storage fallback"))
	if err != nil {
		return nil, err
	}

	m.BackgroundFailures, err = meter.Int64Counter("turnforge.persistence.background_failures",
		metric.WithDescription("Background persistence writes that failed"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
