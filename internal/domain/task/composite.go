package task

import (
	"fmt"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// CompositeTask is a caller-issued request spanning several agents, each
// contributing one subtask. It is owned exclusively by the coordinator.
type CompositeTask struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Subtasks    map[string]string `json:"subtasks"` // agent id -> subtask id
	Status      Status            `json:"status"`
	Result      map[string]any    `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// SubtaskSpec describes one agent's share of a composite request.
type SubtaskSpec struct {
	Data     Payload
	Priority Priority
}

// NewComposite creates a composite in the processing state.
func NewComposite(id, description string, subtasks map[string]string, now time.Time) *CompositeTask {
	return &CompositeTask{
		ID:          id,
		Description: description,
		Subtasks:    subtasks,
		Status:      StatusProcessing,
		CreatedAt:   now,
	}
}

// Complete stores the per-agent results. Terminal composites are never overwritten.
func (c *CompositeTask) Complete(results map[string]any, now time.Time) error {
	if c.Status.Terminal() {
		return fmt.Errorf("complete composite %s in state %s: %w", c.ID, c.Status, domain.ErrConflict)
	}
	c.Status = StatusCompleted
	c.Result = results
	c.CompletedAt = &now
	return nil
}

// Fail marks the composite failed on behalf of agentID. The first failure wins.
func (c *CompositeTask) Fail(agentID, msg string, now time.Time) error {
	if c.Status.Terminal() {
		return fmt.Errorf("fail composite %s in state %s: %w", c.ID, c.Status, domain.ErrConflict)
	}
	c.Status = StatusFailed
	c.Error = FailureMessage(agentID, msg)
	c.CompletedAt = &now
	return nil
}

// FailureMessage formats the error surfaced for a failed subtask.
func FailureMessage(agentID, msg string) string {
	return fmt.Sprintf("Agent %s failed task: %s", agentID, msg)
}

// Snapshot returns a deep copy of the maps and timestamps.
func (c *CompositeTask) Snapshot() CompositeTask {
	out := *c
	out.Subtasks = make(map[string]string, len(c.Subtasks))
	for k, v := range c.Subtasks {
		out.Subtasks[k] = v
	}
	if c.Result != nil {
		out.Result = make(map[string]any, len(c.Result))
		for k, v := range c.Result {
			out.Result[k] = v
		}
	}
	if c.CompletedAt != nil {
		d := *c.CompletedAt
		out.CompletedAt = &d
	}
	return out
}
