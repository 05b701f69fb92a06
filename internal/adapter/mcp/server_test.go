package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/bsvalues/TerraBuild-sub001/internal/adapter/mcp"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

// --- Mocks ---

type mockSwarm struct {
	gotAgent string
	gotType  task.Type
	gotRaw   json.RawMessage
	gotReqs  map[string]service.SubtaskRequest
	err      error
}

func (m *mockSwarm) Agents() []task.AgentInfo {
	return []task.AgentInfo{{ID: "curve", Capabilities: []task.Type{"train_curve"}, Active: true}}
}

func (m *mockSwarm) Status() service.SwarmStatus {
	return service.SwarmStatus{Agents: map[string]task.Counts{"curve": {Completed: 3}}}
}

func (m *mockSwarm) RunTaskJSON(_ context.Context, agentID string, t task.Type, raw json.RawMessage, _ string) (any, error) {
	m.gotAgent, m.gotType, m.gotRaw = agentID, t, raw
	if m.err != nil {
		return nil, m.err
	}
	return map[string]float64{"rcn": 107100}, nil
}

func (m *mockSwarm) RunCompositeTask(_ context.Context, _ string, reqs map[string]service.SubtaskRequest) (map[string]any, error) {
	m.gotReqs = reqs
	return map[string]any{"curve": "ok"}, m.err
}

func (m *mockSwarm) GetTask(agentID, taskID string) (task.Task, error) {
	return task.Task{ID: taskID, AgentID: agentID, Status: task.StatusCompleted}, nil
}

func newServer(s cfmcp.Swarm) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, s)
}

func call(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func text(t *testing.T, r *mcplib.CallToolResult) string {
	t.Helper()
	tc, ok := r.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := newServer(&mockSwarm{})
	tools := s.MCPServer().ListTools()
	for _, name := range []string{"list_agents", "run_task", "run_composite_task", "get_task", "get_swarm_status"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q registered", name)
		}
	}
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}
}

func TestServerStartStop(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestHandleRunTask(t *testing.T) {
	m := &mockSwarm{}
	s := newServer(m)

	r := call(t, s, "run_task", map[string]any{
		"agent_id":  "valuation",
		"task_type": "calculate_valuation",
		"task_data": map[string]any{"squareFeet": 1000},
	})
	if r.IsError {
		t.Fatalf("tool returned error: %v", r.Content)
	}
	if m.gotAgent != "valuation" || m.gotType != "calculate_valuation" || string(m.gotRaw) != `{"squareFeet":1000}` {
		t.Fatalf("unexpected forwarded call %s %s %s", m.gotAgent, m.gotType, m.gotRaw)
	}
	if got := text(t, r); got != `{"rcn":107100}` {
		t.Fatalf("unexpected result %s", got)
	}

	// A JSON string is accepted for clients that cannot send objects.
	r = call(t, s, "run_task", map[string]any{"agent_id": "a", "task_type": "b", "task_data": `{"x":1}`})
	if r.IsError || string(m.gotRaw) != `{"x":1}` {
		t.Fatalf("expected string task_data passed through, got %s", m.gotRaw)
	}
}

func TestHandleRunTaskErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		err  error
	}{
		{"missing agent", map[string]any{"task_type": "x", "task_data": map[string]any{}}, nil},
		{"missing data", map[string]any{"agent_id": "a", "task_type": "x"}, nil},
		{"invalid json string", map[string]any{"agent_id": "a", "task_type": "x", "task_data": "{"}, nil},
		{"task failed", map[string]any{"agent_id": "a", "task_type": "x", "task_data": map[string]any{}}, &service.TaskFailedError{Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := call(t, newServer(&mockSwarm{err: tt.err}), "run_task", tt.args)
			if !r.IsError {
				t.Fatal("expected error result")
			}
		})
	}
}

func TestHandleRunCompositeTask(t *testing.T) {
	m := &mockSwarm{}
	r := call(t, newServer(m), "run_composite_task", map[string]any{
		"description": "parcel",
		"agent_tasks": map[string]any{
			"curve": map[string]any{"type": "list_curves", "data": map[string]any{}},
		},
	})
	if r.IsError {
		t.Fatalf("tool returned error: %v", r.Content)
	}
	if m.gotReqs["curve"].Type != "list_curves" {
		t.Fatalf("unexpected forwarded composite %+v", m.gotReqs)
	}

	m.err = errors.New("Agent curve failed task: boom")
	r = call(t, newServer(m), "run_composite_task", map[string]any{
		"agent_tasks": map[string]any{"curve": map[string]any{"type": "list_curves"}},
	})
	if !r.IsError || !strings.Contains(text(t, r), "boom") {
		t.Fatalf("expected failure surfaced, got %+v", r.Content)
	}
}

func TestHandleStatusAndAgents(t *testing.T) {
	s := newServer(&mockSwarm{})

	var st service.SwarmStatus
	if err := json.Unmarshal([]byte(text(t, call(t, s, "get_swarm_status", nil))), &st); err != nil {
		t.Fatal(err)
	}
	if st.Agents["curve"].Completed != 3 {
		t.Fatalf("unexpected status %+v", st)
	}

	var agents []task.AgentInfo
	if err := json.Unmarshal([]byte(text(t, call(t, s, "list_agents", nil))), &agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 || agents[0].ID != "curve" {
		t.Fatalf("unexpected agents %+v", agents)
	}

	r := call(t, s, "get_task", map[string]any{"agent_id": "curve", "task_id": "t1"})
	if r.IsError || !strings.Contains(text(t, r), `"status":"completed"`) {
		t.Fatalf("unexpected get_task result %+v", r.Content)
	}
}

func TestHandleNilSwarm(t *testing.T) {
	s := newServer(nil)
	if r := call(t, s, "list_agents", nil); !r.IsError {
		t.Fatal("expected error result when swarm is nil")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := cfmcp.AuthMiddleware("secret", ok)

	tests := []struct {
		name  string
		key   string
		value string
		want  int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer wrong", http.StatusForbidden},
		{"bearer", "Authorization", "Bearer secret", http.StatusNoContent},
		{"bare key", "Authorization", "secret", http.StatusNoContent},
		{"api key header", "X-API-Key", "secret", http.StatusNoContent},
		{"wrong api key header", "X-API-Key", "nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.key != "" {
			req.Header.Set(tt.key, tt.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, rec.Code)
		}
	}

	if cfmcp.AuthMiddleware("", ok) == nil {
		t.Fatal("expected passthrough handler")
	}
}
