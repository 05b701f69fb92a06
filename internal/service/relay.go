package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	cfotel "github.com/bsvalues/TerraBuild-sub001/internal/adapter/otel"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/broadcast"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/messagequeue"
	"github.com/bsvalues/TerraBuild-sub001/internal/resilience"
)

// EventSink consumes lifecycle events relayed by the Runner. Sinks must not
// block for long: they run on the publishing agent's event goroutine.
type EventSink func(ctx context.Context, e event.TaskEvent)

// TaskStatusEvent is the broadcast payload for task and composite updates.
type TaskStatusEvent struct {
	Event       event.Type `json:"event"`
	TaskID      string     `json:"task_id,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	TaskType    string     `json:"task_type,omitempty"`
	CompositeID string     `json:"composite_id,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// sinkLogger carries the event's ids and the request id of the call that
// produced it.
func sinkLogger(ctx context.Context, e event.TaskEvent) *slog.Logger {
	attrs := []any{"event", e.Type}
	if e.AgentID != "" {
		attrs = append(attrs, "agent_id", e.AgentID)
	}
	if e.TaskID != "" {
		attrs = append(attrs, "task_id", e.TaskID)
	}
	if e.CompositeID != "" {
		attrs = append(attrs, "composite_id", e.CompositeID)
	}
	return logger.FromContext(ctx, slog.Default()).With(attrs...)
}

// BroadcastSink pushes status changes to connected WebSocket clients.
// Results are left out; clients fetch them on demand.
func BroadcastSink(b broadcast.Broadcaster) EventSink {
	return func(ctx context.Context, e event.TaskEvent) {
		kind := broadcast.EventTaskStatus
		if e.CompositeID != "" {
			kind = broadcast.EventCompositeStatus
		}
		b.BroadcastEvent(ctx, kind, TaskStatusEvent{
			Event:       e.Type,
			TaskID:      e.TaskID,
			AgentID:     e.AgentID,
			TaskType:    string(e.TaskType),
			CompositeID: e.CompositeID,
			Error:       e.Error,
		})
	}
}

// QueueSink publishes events on swarm.events.<type>, guarded by br. While
// the breaker is open events are dropped and logged at debug level.
func QueueSink(q messagequeue.Queue, br *resilience.Breaker) EventSink {
	return func(ctx context.Context, e event.TaskEvent) {
		payload := messagequeue.EventPayload{
			Type:        string(e.Type),
			TaskID:      e.TaskID,
			AgentID:     e.AgentID,
			CompositeID: e.CompositeID,
			Error:       e.Error,
		}
		if e.Result != nil {
			raw, err := json.Marshal(e.Result)
			if err != nil {
				sinkLogger(ctx, e).Warn("event result not serializable", "error", err)
			} else {
				payload.Result = raw
			}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			sinkLogger(ctx, e).Error("marshal event payload", "error", err)
			return
		}
		err = br.Execute(func() error { return q.Publish(ctx, e.Subject(), data) })
		switch {
		case err == nil:
		case errors.Is(err, resilience.ErrCircuitOpen):
			sinkLogger(ctx, e).Debug("event relay skipped, breaker open")
		default:
			sinkLogger(ctx, e).Warn("event relay failed", "error", err)
		}
	}
}

// EventArchive persists lifecycle events.
type EventArchive interface {
	Append(ctx context.Context, e event.TaskEvent) error
}

// ArchiveSink appends every event to the archive. Failures are logged and
// never affect the task.
func ArchiveSink(a EventArchive) EventSink {
	return func(ctx context.Context, e event.TaskEvent) {
		if err := a.Append(ctx, e); err != nil {
			sinkLogger(ctx, e).Warn("event archive failed", "error", err)
		}
	}
}

// MetricsSink records events on the OTel instruments.
func MetricsSink(m *cfotel.Metrics) EventSink {
	return m.Observe
}
