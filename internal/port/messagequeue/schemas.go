package messagequeue

import "encoding/json"

// TaskSubmitPayload is the schema for swarm.tasks.submit messages.
type TaskSubmitPayload struct {
	AgentID  string          `json:"agent_id"`
	TaskType string          `json:"task_type"`
	TaskData json.RawMessage `json:"task_data"`
	Priority string          `json:"priority,omitempty"`
}

// SubtaskPayload is one agent's share of a composite submission.
type SubtaskPayload struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Priority string          `json:"priority,omitempty"`
}

// CompositeSubmitPayload is the schema for swarm.composites.submit messages.
type CompositeSubmitPayload struct {
	Description string                    `json:"description"`
	AgentTasks  map[string]SubtaskPayload `json:"agent_tasks"`
}

// EventPayload is the schema for swarm.events.* messages.
type EventPayload struct {
	Type        string          `json:"type"`
	TaskID      string          `json:"task_id,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	CompositeID string          `json:"composite_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}
