package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
)

func TestSetupServesPrometheusMetrics(t *testing.T) {
	cfg := config.Defaults().OTel
	cfg.ServiceName = "swarm-test"
	tel, err := Setup(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.Observe(ctx, event.TaskEvent{Type: event.TypeTaskSubmitted, AgentID: "curve", TaskType: "train_curve"})
	m.Observe(ctx, event.TaskEvent{Type: event.TypeTaskCompleted, AgentID: "curve", TaskType: "train_curve", Duration: 250 * time.Millisecond})
	m.Observe(ctx, event.TaskEvent{Type: event.TypeCompositeFailed, AgentID: "valuation"})

	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"swarm_tasks_submitted", "swarm_tasks_completed", "swarm_composites_failed", "swarm_task_duration_seconds"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in scrape output", want)
		}
	}
}
