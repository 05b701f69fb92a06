package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/bsvalues/TerraBuild-sub001/internal/adapter/http"
	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

func newRouter(t *testing.T, s cfhttp.Swarm) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, cfhttp.NewHandlers(s), cfhttp.Extras{})
	return r
}

func newSwarm(t *testing.T) *service.Runner {
	t.Helper()
	cfg := config.Defaults()
	cfg.Swarm.EvictInterval = 0
	cfg.Swarm.WaitTimeout = 5 * time.Second
	r := service.NewRunner(cfg.Swarm, service.AgentFactories(&cfg, service.CurveDeps{}, nil))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const valuationTask = `{"agentId":"valuation","taskType":"calculate_valuation","taskData":{"squareFeet":1000,"baseCostPerSqft":100,"effectiveAge":10}}`

func TestRunTask(t *testing.T) {
	h := newRouter(t, newSwarm(t))

	rec := do(t, h, http.MethodPost, "/api/v1/tasks", valuationTask)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Result struct {
			RCN        float64 `json:"rcn"`
			FinalValue float64 `json:"finalValue"`
		} `json:"result"`
	}](t, rec)
	if got.Result.RCN != 107100 || got.Result.FinalValue != 96390 {
		t.Fatalf("unexpected result %+v", got.Result)
	}
}

func TestRunTaskErrors(t *testing.T) {
	h := newRouter(t, newSwarm(t))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"malformed body", `{`, http.StatusBadRequest, "invalid request body"},
		{"missing agent", `{"taskType":"x"}`, http.StatusBadRequest, "agentId is required"},
		{"unknown agent", `{"agentId":"nope","taskType":"x","taskData":{}}`, http.StatusBadRequest, "not registered"},
		{"unsupported type", `{"agentId":"valuation","taskType":"train_curve","taskData":{}}`, http.StatusBadRequest, "train_curve"},
		{"invalid payload", `{"agentId":"valuation","taskType":"calculate_valuation","taskData":{"squareFeet":0}}`, http.StatusBadRequest, "squareFeet"},
		{"failed task", `{"agentId":"curve","taskType":"apply_curve","taskData":{"curveId":"missing","inputs":[1]}}`, http.StatusInternalServerError, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/tasks", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body)
			}
			if msg := decode[map[string]string](t, rec)["error"]; !strings.Contains(msg, tt.wantMsg) {
				t.Fatalf("expected error containing %q, got %q", tt.wantMsg, msg)
			}
		})
	}
}

func TestSubmitTaskThenGet(t *testing.T) {
	s := newSwarm(t)
	h := newRouter(t, s)

	rec := do(t, h, http.MethodPost, "/api/v1/tasks/async", valuationTask)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	id := decode[map[string]string](t, rec)["taskId"]

	a, err := s.Coordinator().Agent("valuation")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.Wait(ctx, id); err != nil {
		t.Fatal(err)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents/valuation/tasks/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if st := decode[map[string]any](t, rec)["status"]; st != string(task.StatusCompleted) {
		t.Fatalf("expected completed, got %v", st)
	}

	for _, path := range []string{"/api/v1/agents/valuation/tasks/missing", "/api/v1/agents/nope/tasks/" + id} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestRunCompositeTask(t *testing.T) {
	h := newRouter(t, newSwarm(t))

	body := `{"description":"parcel","agentTasks":{
		"valuation":{"type":"calculate_valuation","data":{"squareFeet":1000,"baseCostPerSqft":100,"effectiveAge":10}},
		"curve":{"type":"list_curves","data":{}}}}`
	rec := do(t, h, http.MethodPost, "/api/v1/composite-tasks", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Result map[string]json.RawMessage `json:"result"`
	}](t, rec)
	if len(got.Result) != 2 || got.Result["curve"] == nil || got.Result["valuation"] == nil {
		t.Fatalf("expected results from both agents, got %s", rec.Body)
	}

	failing := `{"description":"bad","agentTasks":{
		"valuation":{"type":"calculate_valuation","data":{"squareFeet":1000,"baseCostPerSqft":100}},
		"curve":{"type":"apply_curve","data":{"curveId":"missing","inputs":[1]}}}}`
	rec = do(t, h, http.MethodPost, "/api/v1/composite-tasks", failing)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body)
	}
	if msg := decode[map[string]string](t, rec)["error"]; !strings.HasPrefix(msg, "Agent curve failed task: ") {
		t.Fatalf("unexpected composite error %q", msg)
	}

	unknown := `{"agentTasks":{"ghost":{"type":"x","data":{}}}}`
	if rec := do(t, h, http.MethodPost, "/api/v1/composite-tasks", unknown); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unregistered agent, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/composite-tasks", `{"description":"empty"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty composite, got %d", rec.Code)
	}
}

func TestSubmitCompositeTaskThenGet(t *testing.T) {
	s := newSwarm(t)
	h := newRouter(t, s)

	body := `{"description":"async","agentTasks":{"curve":{"type":"list_curves","data":{}}}}`
	rec := do(t, h, http.MethodPost, "/api/v1/composite-tasks/async", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	id := decode[map[string]string](t, rec)["taskId"]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Coordinator().Wait(ctx, id); err != nil {
		t.Fatal(err)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/composite-tasks/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/composite-tasks/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusAndAgents(t *testing.T) {
	h := newRouter(t, newSwarm(t))

	rec := do(t, h, http.MethodGet, "/api/v1/agents", "")
	agents := decode[[]task.AgentInfo](t, rec)
	if len(agents) != 2 || agents[0].ID != "curve" || agents[1].ID != "valuation" {
		t.Fatalf("unexpected agents %+v", agents)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/status", "")
	st := decode[service.SwarmStatus](t, rec)
	if _, ok := st.Agents["curve"]; !ok {
		t.Fatalf("status missing curve agent: %s", rec.Body)
	}

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
}

// stubSwarm returns a fixed error from every call.
type stubSwarm struct {
	service.Runner
	err error
}

func (s *stubSwarm) RunTaskJSON(context.Context, string, task.Type, json.RawMessage, string) (any, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("waiting for task: %w: %w", domain.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("agent is shut down: %w", domain.ErrConflict), http.StatusServiceUnavailable},
		{&service.TaskFailedError{ID: "t", Message: "boom"}, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := newRouter(t, &stubSwarm{err: tt.err})
		rec := do(t, h, http.MethodPost, "/api/v1/tasks", valuationTask)
		if rec.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}

type fakeEvents struct{}

func (fakeEvents) LoadByTask(_ context.Context, taskID string) ([]event.TaskEvent, error) {
	return []event.TaskEvent{{Type: event.TypeTaskSubmitted, TaskID: taskID}}, nil
}

func (fakeEvents) LoadByComposite(_ context.Context, id string) ([]event.TaskEvent, error) {
	return nil, fmt.Errorf("composite %s: %w", id, domain.ErrNotFound)
}

func TestEventRoutes(t *testing.T) {
	s := newSwarm(t)
	without := newRouter(t, s)
	if rec := do(t, without, http.MethodGet, "/api/v1/tasks/t1/events", ""); rec.Code != http.StatusMethodNotAllowed && rec.Code != http.StatusNotFound {
		t.Fatalf("expected events route to be absent, got %d", rec.Code)
	}

	h := cfhttp.NewHandlers(s)
	h.Events = fakeEvents{}
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, h, cfhttp.Extras{})

	rec := do(t, r, http.MethodGet, "/api/v1/tasks/t1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if events := decode[[]event.TaskEvent](t, rec); len(events) != 1 || events[0].TaskID != "t1" {
		t.Fatalf("unexpected events %+v", events)
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/composite-tasks/c1/events", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
