// Package event defines the typed lifecycle events emitted by agents and
// the coordinator.
package event

import (
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeTaskSubmitted  Type = "task.submitted"
	TypeTaskProcessing Type = "task.processing"
	TypeTaskCompleted  Type = "task.completed"
	TypeTaskFailed     Type = "task.failed"

	TypeCompositeCompleted Type = "composite.completed"
	TypeCompositeFailed    Type = "composite.failed"
)

// Terminal reports whether the event settles its task or composite.
func (t Type) Terminal() bool {
	switch t {
	case TypeTaskCompleted, TypeTaskFailed, TypeCompositeCompleted, TypeCompositeFailed:
		return true
	}
	return false
}

// TaskEvent is a single immutable lifecycle notification. Task events carry
// TaskID and AgentID; composite events carry CompositeID and, on failure,
// the agent whose subtask failed.
type TaskEvent struct {
	Type        Type      `json:"type"`
	TaskID      string    `json:"task_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	TaskType    task.Type `json:"task_type,omitempty"`
	CompositeID string    `json:"composite_id,omitempty"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Duration is the processing time of a settled task that was started.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// SubjectPrefix is the NATS subject namespace for relayed lifecycle events.
const SubjectPrefix = "swarm.events."

// Subject returns the message-queue subject the event is relayed on.
func (e TaskEvent) Subject() string {
	return SubjectPrefix + string(e.Type)
}
