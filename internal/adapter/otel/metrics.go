package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/curve"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
)

const meterName = "terrabuild-swarm"

// Metrics holds the swarm's metric instruments.
type Metrics struct {
	TasksSubmitted      metric.Int64Counter
	TasksCompleted      metric.Int64Counter
	TasksFailed         metric.Int64Counter
	CompositesCompleted metric.Int64Counter
	CompositesFailed    metric.Int64Counter
	TaskDuration        metric.Float64Histogram
	CurveAccuracy       metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("swarm.tasks.submitted",
		metric.WithDescription("Number of tasks accepted by agents"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("swarm.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("swarm.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.CompositesCompleted, err = meter.Int64Counter("swarm.composites.completed",
		metric.WithDescription("Number of composite tasks completed"))
	if err != nil {
		return nil, err
	}

	m.CompositesFailed, err = meter.Int64Counter("swarm.composites.failed",
		metric.WithDescription("Number of composite tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("swarm.task.duration_seconds",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.CurveAccuracy, err = meter.Float64Histogram("swarm.curve.accuracy",
		metric.WithDescription("Accuracy of trained curves"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Observe records a lifecycle event.
func (m *Metrics) Observe(ctx context.Context, e event.TaskEvent) {
	attrs := metric.WithAttributes(
		attribute.String("agent.id", e.AgentID),
		attribute.String("task.type", string(e.TaskType)),
	)
	switch e.Type {
	case event.TypeTaskSubmitted:
		m.TasksSubmitted.Add(ctx, 1, attrs)
	case event.TypeTaskCompleted:
		m.TasksCompleted.Add(ctx, 1, attrs)
		m.recordDuration(ctx, e, "completed")
		if r, ok := e.Result.(curve.TrainResult); ok && r.Curve != nil {
			m.CurveAccuracy.Record(ctx, r.Curve.Accuracy,
				metric.WithAttributes(attribute.String("curve.family", string(r.Curve.Family))))
		}
	case event.TypeTaskFailed:
		m.TasksFailed.Add(ctx, 1, attrs)
		m.recordDuration(ctx, e, "failed")
	case event.TypeCompositeCompleted:
		m.CompositesCompleted.Add(ctx, 1)
	case event.TypeCompositeFailed:
		m.CompositesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", e.AgentID)))
	}
}

func (m *Metrics) recordDuration(ctx context.Context, e event.TaskEvent, outcome string) {
	if e.Duration <= 0 {
		return
	}
	m.TaskDuration.Record(ctx, e.Duration.Seconds(), metric.WithAttributes(
		attribute.String("agent.id", e.AgentID),
		attribute.String("task.type", string(e.TaskType)),
		attribute.String("outcome", outcome),
	))
}
