package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

type fakeSwarm struct {
	submitted []json.RawMessage
	tasks     map[string]task.Task
}

func (f *fakeSwarm) Agents() []task.AgentInfo {
	return []task.AgentInfo{
		{ID: "curve", Name: "Cost Curve Agent", Capabilities: []task.Type{"train_curve", "apply_curve"}, Active: true},
		{ID: "stopped", Name: "Stopped", Capabilities: []task.Type{"x"}},
	}
}

func (f *fakeSwarm) SubmitTask(_ context.Context, agentID string, t task.Type, raw json.RawMessage, _ string) (string, error) {
	if agentID != "curve" {
		return "", fmt.Errorf("agent %s is not registered: %w", agentID, domain.ErrValidation)
	}
	f.submitted = append(f.submitted, raw)
	id := fmt.Sprintf("t%d", len(f.submitted))
	f.tasks[id] = task.Task{ID: id, AgentID: agentID, Type: t, Status: task.StatusPending}
	return id, nil
}

func (f *fakeSwarm) GetTask(_, taskID string) (task.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return task.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func newTestRouter() (*chi.Mux, *fakeSwarm) {
	s := &fakeSwarm{tasks: make(map[string]task.Task)}
	r := chi.NewRouter()
	NewHandler("http://localhost:8080", "test", s).MountRoutes(r)
	return r, s
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAgentCard(t *testing.T) {
	r, _ := newTestRouter()
	w := serve(r, http.MethodGet, "/.well-known/agent.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var card AgentCard
	if err := json.NewDecoder(w.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(card.Skills) != 2 {
		t.Fatalf("expected 2 skills from the active agent, got %d", len(card.Skills))
	}
	if card.Skills[0].ID != "curve.train_curve" {
		t.Fatalf("unexpected skill id %q", card.Skills[0].ID)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	r, s := newTestRouter()

	w := serve(r, http.MethodPost, "/a2a/tasks", `{"id":"a-1","skill":"curve.apply_curve","input":{"curveId":"c1","inputs":[1]}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	if string(s.submitted[0]) != `{"curveId":"c1","inputs":[1]}` {
		t.Fatalf("unexpected forwarded input %s", s.submitted[0])
	}

	tests := []struct {
		status task.Status
		want   string
	}{
		{task.StatusPending, StateQueued},
		{task.StatusProcessing, StateRunning},
		{task.StatusCompleted, StateCompleted},
		{task.StatusFailed, StateFailed},
	}
	for _, tt := range tests {
		s.tasks["t1"] = task.Task{ID: "t1", Status: tt.status, Result: 42.0, Error: "boom"}
		w = serve(r, http.MethodGet, "/a2a/tasks/a-1", "")
		var resp TaskResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.status, tt.want, resp.Status)
		}
		if tt.status == task.StatusCompleted && resp.Output["result"] != 42.0 {
			t.Errorf("expected result in output, got %v", resp.Output)
		}
		if tt.status == task.StatusFailed && resp.Error != "boom" {
			t.Errorf("expected error boom, got %q", resp.Error)
		}
	}

	if w := serve(r, http.MethodPost, "/a2a/tasks", `{"id":"a-1","skill":"curve.apply_curve","input":{}}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate id, got %d", w.Code)
	}
}

func TestCreateTaskRejects(t *testing.T) {
	r, _ := newTestRouter()
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing id", `{"skill":"curve.train_curve"}`, http.StatusBadRequest},
		{"bad skill", `{"id":"x","skill":"train_curve"}`, http.StatusBadRequest},
		{"unknown agent", `{"id":"x","skill":"ghost.train_curve","input":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(r, http.MethodPost, "/a2a/tasks", tt.body); w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	r, _ := newTestRouter()
	if w := serve(r, http.MethodGet, "/a2a/tasks/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
