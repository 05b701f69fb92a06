package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

func TestAgentSubmitAndWait(t *testing.T) {
	a, _ := newEchoAgent(t, "echo")
	rec := &eventRecorder{}
	a.Subscribe(rec.record)

	id, err := a.SubmitTask(context.Background(), echoPayload{Value: "hi"}, "")
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	got, err := a.Wait(waitCtx(t), id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.Status != task.StatusCompleted || got.Result != "hi" || got.Error != "" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Priority != task.PriorityNormal {
		t.Errorf("expected normal priority, got %q", got.Priority)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}

	waitFor(t, "three events", func() bool { return len(rec.snapshot()) == 3 })
	want := []event.Type{event.TypeTaskSubmitted, event.TypeTaskProcessing, event.TypeTaskCompleted}
	for i, e := range rec.snapshot() {
		if e.Type != want[i] || e.TaskID != id || e.AgentID != "echo" {
			t.Errorf("event %d: got %+v, want type %s", i, e, want[i])
		}
	}
}

func TestAgentFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload echoPayload
		opts    []AgentOption
		wantErr string
	}{
		{"returned error", echoPayload{Fail: "bad input"}, nil, "bad input"},
		{"panic", echoPayload{Panic: true}, nil, "panic: boom"},
		{"deadline", echoPayload{Block: true}, []AgentOption{WithTaskTimeout(20 * time.Millisecond)}, "task deadline exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newEchoAgent(t, "echo", tt.opts...)
			id, err := a.SubmitTask(context.Background(), tt.payload, task.PriorityHigh)
			if err != nil {
				t.Fatalf("SubmitTask: %v", err)
			}
			got, err := a.Wait(waitCtx(t), id)
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if got.Status != task.StatusFailed {
				t.Fatalf("expected failed, got %s", got.Status)
			}
			if got.Result != nil {
				t.Errorf("failed task carries result %v", got.Result)
			}
			if !strings.Contains(got.Error, tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, got.Error)
			}
		})
	}
}

func TestAgentSubmitValidation(t *testing.T) {
	a, _ := newEchoAgent(t, "echo")
	tests := []struct {
		name     string
		payload  task.Payload
		priority task.Priority
	}{
		{"nil payload", nil, ""},
		{"unsupported type", otherPayload{}, ""},
		{"invalid payload", echoPayload{}, ""},
		{"unknown priority", echoPayload{Value: "x"}, "urgent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.SubmitTask(context.Background(), tt.payload, tt.priority)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if st := a.Status(); st != (task.Counts{}) {
		t.Fatalf("rejected submissions must not be stored, got %+v", st)
	}
}

func TestAgentDecodePayload(t *testing.T) {
	a, _ := newEchoAgent(t, "echo")

	p, err := a.DecodePayload(typeEcho, []byte(`{"value":"v"}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.(echoPayload).Value != "v" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if _, err := a.DecodePayload("other", []byte(`{}`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}
	if _, err := a.DecodePayload(typeEcho, []byte(`{"value":`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad JSON, got %v", err)
	}
}

func TestAgentWaitDeadline(t *testing.T) {
	a, release := newEchoAgent(t, "echo")
	id, err := a.SubmitTask(context.Background(), echoPayload{Block: true}, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Wait(ctx, id); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	release()
	got, err := a.Wait(waitCtx(t), id)
	if err != nil || got.Status != task.StatusCompleted {
		t.Fatalf("expected completion after release, got %+v err=%v", got, err)
	}
	if _, err := a.Wait(waitCtx(t), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentMultipleWaiters(t *testing.T) {
	a, release := newEchoAgent(t, "echo")
	id, _ := a.SubmitTask(context.Background(), echoPayload{Block: true}, "")

	ctx := waitCtx(t)
	results := make(chan task.Task, 3)
	for range 3 {
		go func() {
			got, _ := a.Wait(ctx, id)
			results <- got
		}()
	}
	waitFor(t, "waiters", func() bool { return a.waiter.pending(id) == 3 })
	release()
	for range 3 {
		if got := <-results; got.Status != task.StatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
	}
}

func TestAgentConcurrencyLimit(t *testing.T) {
	a, release := newEchoAgent(t, "echo", WithMaxConcurrent(1))
	first, _ := a.SubmitTask(context.Background(), echoPayload{Block: true}, "")
	second, _ := a.SubmitTask(context.Background(), echoPayload{Block: true}, "")

	waitFor(t, "one task processing", func() bool { return a.Status().Processing == 1 })
	if st := a.Status(); st.Pending != 1 {
		t.Fatalf("expected one pending task behind the limit, got %+v", st)
	}

	release()
	for _, id := range []string{first, second} {
		if got, err := a.Wait(waitCtx(t), id); err != nil || got.Status != task.StatusCompleted {
			t.Fatalf("task %s: %+v err=%v", id, got, err)
		}
	}
}

func TestAgentEvict(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, _ := newEchoAgent(t, "echo", WithClock(func() time.Time { return now }))
	id, _ := a.SubmitTask(context.Background(), echoPayload{Value: "x"}, "")
	if _, err := a.Wait(waitCtx(t), id); err != nil {
		t.Fatal(err)
	}

	if n := a.Evict(now); n != 0 {
		t.Fatalf("cutoff equal to completion must keep the task, evicted %d", n)
	}
	if n := a.Evict(now.Add(time.Second)); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := a.GetTask(id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestAgentShutdown(t *testing.T) {
	a, release := newEchoAgent(t, "echo")
	id, _ := a.SubmitTask(context.Background(), echoPayload{Block: true}, "")
	waitFor(t, "processing", func() bool { return a.Status().Processing == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected shutdown deadline, got %v", err)
	}
	got, _ := a.GetTask(id)
	if got.Status != task.StatusFailed || got.Error != msgShuttingDown {
		t.Fatalf("expected in-flight task failed on forced shutdown, got %+v", got)
	}
	release()

	if _, err := a.SubmitTask(context.Background(), echoPayload{Value: "x"}, ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict after shutdown, got %v", err)
	}
	if a.Info().Active {
		t.Fatal("expected inactive agent after shutdown")
	}
}

func TestAgentNilLoggerKeepsDefault(t *testing.T) {
	a, _ := newEchoAgent(t, "echo", WithLogger(nil))
	id, err := a.SubmitTask(context.Background(), echoPayload{Value: "ok"}, "")
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if got, err := a.Wait(waitCtx(t), id); err != nil || got.Status != task.StatusCompleted {
		t.Fatalf("task %+v err=%v", got, err)
	}
}
