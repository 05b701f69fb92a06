package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

const typeEcho task.Type = "echo"

// echoPayload drives echoProcessor: it returns Value, fails with Fail,
// panics, or blocks until released.
type echoPayload struct {
	Value string `json:"value,omitempty"`
	Fail  string `json:"fail,omitempty"`
	Panic bool   `json:"panic,omitempty"`
	Block bool   `json:"block,omitempty"`
}

func (echoPayload) TaskType() task.Type { return typeEcho }

func (p echoPayload) Validate() error {
	if p.Value == "" && p.Fail == "" && !p.Panic && !p.Block {
		return fmt.Errorf("value is required: %w", domain.ErrValidation)
	}
	return nil
}

type otherPayload struct{}

func (otherPayload) TaskType() task.Type { return "other" }
func (otherPayload) Validate() error     { return nil }

type echoProcessor struct {
	release chan struct{}
}

func (e *echoProcessor) Process(_ context.Context, t task.Task) (any, error) {
	p := t.Data.(echoPayload)
	switch {
	case p.Panic:
		panic("boom")
	case p.Fail != "":
		return nil, errors.New(p.Fail)
	case p.Block:
		<-e.release
		return "released", nil
	}
	return p.Value, nil
}

// newEchoAgent returns an agent whose blocking tasks are released by
// closing the returned channel (done automatically at cleanup).
func newEchoAgent(t *testing.T, id string, opts ...AgentOption) (*BaseAgent, func()) {
	t.Helper()
	proc := &echoProcessor{release: make(chan struct{})}
	var once sync.Once
	release := func() { once.Do(func() { close(proc.release) }) }
	a := NewBaseAgent(id, "Echo "+id, proc, []Capability{CapabilityFor[echoPayload](typeEcho)},
		append([]AgentOption{WithMaxConcurrent(4)}, opts...)...)
	t.Cleanup(func() {
		release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, release
}

// countingAgent tracks how many of its subscriptions are live.
type countingAgent struct {
	*BaseAgent
	live atomic.Int32
}

func (c *countingAgent) Subscribe(fn func(event.TaskEvent), types ...event.Type) func() {
	c.live.Add(1)
	u := c.BaseAgent.Subscribe(fn, types...)
	var once sync.Once
	return func() {
		once.Do(func() {
			c.live.Add(-1)
			u()
		})
	}
}

// eventRecorder collects events from a subscription.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.TaskEvent
}

func (r *eventRecorder) record(e event.TaskEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []event.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.TaskEvent, len(r.events))
	copy(out, r.events)
	return out
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
