// Package a2a serves the agent-to-agent protocol surface of the swarm: an
// agent card listing every task type as a skill, and task endpoints backed
// by the runner.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// maxTrackedTasks bounds the A2A id to swarm task mapping.
const maxTrackedTasks = 10_000

// Swarm is the part of the runner the A2A surface drives.
type Swarm interface {
	Agents() []task.AgentInfo
	SubmitTask(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (string, error)
	GetTask(agentID, taskID string) (task.Task, error)
}

type taskRef struct {
	agentID string
	taskID  string
}

// Handler serves the A2A protocol endpoints.
type Handler struct {
	baseURL string
	version string
	swarm   Swarm
	tasks   *lru.Cache[string, taskRef]
}

// NewHandler creates an A2A handler.
func NewHandler(baseURL, version string, s Swarm) *Handler {
	tasks, _ := lru.New[string, taskRef](maxTrackedTasks)
	return &Handler{baseURL: baseURL, version: version, swarm: s, tasks: tasks}
}

// MountRoutes registers A2A routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Post("/a2a/tasks", h.handleCreateTask)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BuildAgentCard(h.baseURL, h.version, h.swarm.Agents()))
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	agentID, taskType, ok := parseSkill(req.Skill)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("skill %q must be <agentId>.<taskType>", req.Skill))
		return
	}
	if h.tasks.Contains(req.ID) {
		writeError(w, http.StatusConflict, "task id already exists")
		return
	}

	raw, err := json.Marshal(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input")
		return
	}
	taskID, err := h.swarm.SubmitTask(r.Context(), agentID, taskType, raw, "")
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("a2a task submit failed", "id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.tasks.Add(req.ID, taskRef{agentID: agentID, taskID: taskID})

	slog.Info("a2a task created", "id", req.ID, "skill", req.Skill, "task_id", taskID)
	writeJSON(w, http.StatusCreated, TaskResponse{ID: req.ID, Status: StateQueued})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref, ok := h.tasks.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t, err := h.swarm.GetTask(ref.agentID, ref.taskID)
	if err != nil {
		// Evicted by the janitor.
		h.tasks.Remove(id)
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(id, t))
}

func toResponse(id string, t task.Task) TaskResponse {
	resp := TaskResponse{ID: id}
	switch t.Status {
	case task.StatusPending:
		resp.Status = StateQueued
	case task.StatusProcessing:
		resp.Status = StateRunning
	case task.StatusCompleted:
		resp.Status = StateCompleted
		resp.Output = map[string]any{"result": t.Result}
	case task.StatusFailed:
		resp.Status = StateFailed
		resp.Error = t.Error
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
