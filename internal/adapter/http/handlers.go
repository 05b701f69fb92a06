package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

const defaultBodyLimit = 10 << 20

// Swarm is the part of the runner the HTTP layer drives.
type Swarm interface {
	Agents() []task.AgentInfo
	Status() service.SwarmStatus
	SubmitTask(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (string, error)
	RunTaskJSON(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (any, error)
	GetTask(agentID, taskID string) (task.Task, error)
	SubmitCompositeTask(ctx context.Context, description string, reqs map[string]service.SubtaskRequest) (string, error)
	RunCompositeTask(ctx context.Context, description string, reqs map[string]service.SubtaskRequest) (map[string]any, error)
	GetCompositeTask(id string) (task.CompositeTask, error)
}

// EventReader reads archived lifecycle events.
type EventReader interface {
	LoadByTask(ctx context.Context, taskID string) ([]event.TaskEvent, error)
	LoadByComposite(ctx context.Context, compositeID string) ([]event.TaskEvent, error)
}

// Handlers holds the HTTP handlers of the swarm API. Events is optional.
type Handlers struct {
	Swarm     Swarm
	Events    EventReader
	BodyLimit int64
}

// NewHandlers creates handlers backed by s.
func NewHandlers(s Swarm) *Handlers {
	return &Handlers{Swarm: s, BodyLimit: defaultBodyLimit}
}

// TaskRequest is the single-agent request shape.
type TaskRequest struct {
	AgentID  string          `json:"agentId"`
	TaskType task.Type       `json:"taskType"`
	TaskData json.RawMessage `json:"taskData"`
	Priority string          `json:"priority,omitempty"`
}

// CompositeRequest is the composite request shape.
type CompositeRequest struct {
	Description string                            `json:"description"`
	AgentTasks  map[string]service.SubtaskRequest `json:"agentTasks"`
}

type resultResponse struct {
	Result any `json:"result"`
}

type acceptedResponse struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId,omitempty"`
}

func (h *Handlers) readTask(w http.ResponseWriter, r *http.Request) (TaskRequest, bool) {
	req, ok := readJSON[TaskRequest](w, r, h.BodyLimit)
	if !ok {
		return req, false
	}
	if !requireField(w, req.AgentID, "agentId") || !requireField(w, string(req.TaskType), "taskType") {
		return req, false
	}
	return req, true
}

// RunTask handles POST /api/v1/tasks: submit and await one task.
func (h *Handlers) RunTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readTask(w, r)
	if !ok {
		return
	}
	res, err := h.Swarm.RunTaskJSON(r.Context(), req.AgentID, req.TaskType, req.TaskData, req.Priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res})
}

// SubmitTask handles POST /api/v1/tasks/async.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readTask(w, r)
	if !ok {
		return
	}
	id, err := h.Swarm.SubmitTask(r.Context(), req.AgentID, req.TaskType, req.TaskData, req.Priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: id, AgentID: req.AgentID})
}

// GetTask handles GET /api/v1/agents/{id}/tasks/{taskId}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Swarm.GetTask(urlParam(r, "id"), urlParam(r, "taskId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) readComposite(w http.ResponseWriter, r *http.Request) (CompositeRequest, bool) {
	req, ok := readJSON[CompositeRequest](w, r, h.BodyLimit)
	if !ok {
		return req, false
	}
	if len(req.AgentTasks) == 0 {
		writeError(w, http.StatusBadRequest, "agentTasks is required")
		return req, false
	}
	return req, true
}

// RunCompositeTask handles POST /api/v1/composite-tasks.
func (h *Handlers) RunCompositeTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readComposite(w, r)
	if !ok {
		return
	}
	res, err := h.Swarm.RunCompositeTask(r.Context(), req.Description, req.AgentTasks)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res})
}

// SubmitCompositeTask handles POST /api/v1/composite-tasks/async.
func (h *Handlers) SubmitCompositeTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readComposite(w, r)
	if !ok {
		return
	}
	id, err := h.Swarm.SubmitCompositeTask(r.Context(), req.Description, req.AgentTasks)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: id})
}

// GetCompositeTask handles GET /api/v1/composite-tasks/{id}.
func (h *Handlers) GetCompositeTask(w http.ResponseWriter, r *http.Request) {
	c, err := h.Swarm.GetCompositeTask(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Swarm.Agents())
}

// Status handles GET /api/v1/status.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Swarm.Status())
}

// TaskEvents handles GET /api/v1/tasks/{taskId}/events.
func (h *Handlers) TaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.LoadByTask(r.Context(), urlParam(r, "taskId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CompositeEvents handles GET /api/v1/composite-tasks/{id}/events.
func (h *Handlers) CompositeEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.LoadByComposite(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
