// Package task defines the Task and CompositeTask domain entities and the
// lifecycle rules shared by every agent.
package task

import (
	"fmt"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type discriminates which processing routine an agent runs.
type Type string

// Priority is advisory; agents do not reorder work by it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var validPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityNormal:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

// ParsePriority maps an empty string to PriorityNormal and rejects unknown values.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !validPriorities[p] {
		return "", fmt.Errorf("invalid priority %q: %w", s, domain.ErrValidation)
	}
	return p, nil
}

// Payload is the typed body of a task. Each variant belongs to exactly one
// task Type and validates itself before the task is accepted.
type Payload interface {
	TaskType() Type
	Validate() error
}

// Task represents one unit of work owned by a single agent.
type Task struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Type        Type       `json:"type"`
	Priority    Priority   `json:"priority"`
	Data        Payload    `json:"data"`
	Status      Status     `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending task.
func New(id, agentID string, data Payload, priority Priority, now time.Time) *Task {
	return &Task{
		ID:        id,
		AgentID:   agentID,
		Type:      data.TaskType(),
		Priority:  priority,
		Data:      data,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Start moves a pending task to processing.
func (t *Task) Start(now time.Time) error {
	if t.Status != StatusPending {
		return fmt.Errorf("start task %s in state %s: %w", t.ID, t.Status, domain.ErrConflict)
	}
	t.Status = StatusProcessing
	t.StartedAt = &now
	return nil
}

// Complete records a result. Terminal tasks are never overwritten. A nil
// result is stored as an empty object so completed tasks always carry one.
func (t *Task) Complete(result any, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("complete task %s in state %s: %w", t.ID, t.Status, domain.ErrConflict)
	}
	if result == nil {
		result = struct{}{}
	}
	t.Status = StatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
	return nil
}

// Fail records an error message. Terminal tasks are never overwritten.
func (t *Task) Fail(msg string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("fail task %s in state %s: %w", t.ID, t.Status, domain.ErrConflict)
	}
	if msg == "" {
		msg = "unknown error"
	}
	t.Status = StatusFailed
	t.Result = nil
	t.Error = msg
	t.CompletedAt = &now
	return nil
}

// Snapshot returns a copy safe to hand out while the owner keeps mutating t.
func (t *Task) Snapshot() Task {
	c := *t
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return c
}

// Counts is the liveness summary reported by getStatus.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add increments the bucket for s.
func (c *Counts) Add(s Status) {
	switch s {
	case StatusPending:
		c.Pending++
	case StatusProcessing:
		c.Processing++
	case StatusCompleted:
		c.Completed++
	case StatusFailed:
		c.Failed++
	}
}
