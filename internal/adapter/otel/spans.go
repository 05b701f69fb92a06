package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "terrabuild-swarm"

// StartTaskSpan starts a span covering one task's processing.
func StartTaskSpan(ctx context.Context, agentID, taskID, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.process",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartCompositeSpan starts a span covering a composite fan-out.
func StartCompositeSpan(ctx context.Context, description string, agents int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "composite.create",
		trace.WithAttributes(
			attribute.String("composite.description", description),
			attribute.Int("composite.agents", agents),
		),
	)
}

// StartTrainSpan starts a span for a curve training run.
func StartTrainSpan(ctx context.Context, family string, points int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "curve.train",
		trace.WithAttributes(
			attribute.String("curve.family", family),
			attribute.Int("curve.points", points),
		),
	)
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
