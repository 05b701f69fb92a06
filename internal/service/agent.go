package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/bsvalues/TerraBuild-sub001/internal/adapter/otel"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/eventbus"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/agent"
)

// Failure messages recorded when a task is stopped from outside its processor.
const (
	msgDeadlineExceeded = "task deadline exceeded"
	msgShuttingDown     = "agent shutting down"
)

var errDeadline = errors.New(msgDeadlineExceeded)

// Processor runs the type-specific work of a concrete agent. The returned
// value becomes the task result; a returned error (or a panic) fails the task.
type Processor interface {
	Process(ctx context.Context, t task.Task) (any, error)
}

// Capability binds a task type to the decoder for its payload variant.
type Capability struct {
	Type   task.Type
	Decode func(raw json.RawMessage) (task.Payload, error)
}

// CapabilityFor builds a Capability decoding JSON into payload type P.
func CapabilityFor[P task.Payload](t task.Type) Capability {
	return Capability{
		Type: t,
		Decode: func(raw json.RawMessage) (task.Payload, error) {
			var p P
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &p); err != nil {
					return nil, fmt.Errorf("decode %s payload: %v: %w", t, err, domain.ErrValidation)
				}
			}
			return p, nil
		},
	}
}

// AgentOption configures a BaseAgent.
type AgentOption func(*BaseAgent)

// WithMaxConcurrent bounds how many tasks the agent processes at once.
func WithMaxConcurrent(n int64) AgentOption {
	return func(a *BaseAgent) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTaskTimeout fails tasks still processing after d. Zero disables it.
func WithTaskTimeout(d time.Duration) AgentOption {
	return func(a *BaseAgent) { a.taskTimeout = d }
}

// WithDescription sets the human-readable description shown in discovery.
func WithDescription(desc string, tags ...string) AgentOption {
	return func(a *BaseAgent) {
		a.description = desc
		a.tags = tags
	}
}

// WithValidator adds an agent-level submission check run after the
// payload's own Validate.
func WithValidator(fn func(task.Payload) error) AgentOption {
	return func(a *BaseAgent) { a.validate = fn }
}

// WithLogger sets the base logger. A nil logger keeps slog.Default.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *BaseAgent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithEventBuffer sets the initial queue capacity of each event subscriber.
func WithEventBuffer(n int) AgentOption {
	return func(a *BaseAgent) { a.eventBuffer = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) AgentOption {
	return func(a *BaseAgent) { a.now = now }
}

// BaseAgent implements the agent task contract: a task table, lifecycle
// transitions, ordered events and notification-based waits. Concrete agents
// supply a Processor and their capabilities.
type BaseAgent struct {
	id          string
	name        string
	description string
	tags        []string
	caps        map[task.Type]Capability
	order       []task.Type
	proc        Processor
	validate    func(task.Payload) error
	sem         *semaphore.Weighted
	taskTimeout time.Duration
	eventBuffer int
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	tasks  map[string]*task.Task
	active bool

	bus    *eventbus.Bus
	waiter *terminalWaiter[task.Task]
	wg     sync.WaitGroup

	baseCtx context.Context
	abort   context.CancelFunc
}

var _ agent.Agent = (*BaseAgent)(nil)

// NewBaseAgent creates an active agent.
func NewBaseAgent(id, name string, proc Processor, caps []Capability, opts ...AgentOption) *BaseAgent {
	baseCtx, abort := context.WithCancel(context.Background())
	a := &BaseAgent{
		id:      id,
		name:    name,
		caps:    make(map[task.Type]Capability, len(caps)),
		proc:    proc,
		sem:     semaphore.NewWeighted(1),
		log:     slog.Default(),
		now:     time.Now,
		tasks:   make(map[string]*task.Task),
		active:  true,
		waiter:  newTerminalWaiter[task.Task](),
		baseCtx: baseCtx,
		abort:   abort,
	}
	for _, c := range caps {
		a.caps[c.Type] = c
		a.order = append(a.order, c.Type)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("agent_id", id)
	a.bus = eventbus.New("agent:"+id, a.eventBuffer)
	return a
}

func (a *BaseAgent) ID() string { return a.id }

// Info describes the agent, including live task counts.
func (a *BaseAgent) Info() task.AgentInfo {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	return task.AgentInfo{
		ID:           a.id,
		Name:         a.name,
		Description:  a.description,
		Capabilities: slices.Clone(a.order),
		Active:       active,
		Counts:       a.Status(),
		Tags:         a.tags,
	}
}

func (a *BaseAgent) Supports(t task.Type) bool {
	_, ok := a.caps[t]
	return ok
}

// DecodePayload parses raw JSON into the payload variant registered for t.
func (a *BaseAgent) DecodePayload(t task.Type, raw json.RawMessage) (task.Payload, error) {
	c, ok := a.caps[t]
	if !ok {
		return nil, fmt.Errorf("agent %s does not support task type %q: %w", a.id, t, domain.ErrValidation)
	}
	return c.Decode(raw)
}

// ValidatePayload checks capability, priority and payload without side effects.
func (a *BaseAgent) ValidatePayload(p task.Payload, priority task.Priority) error {
	if p == nil {
		return fmt.Errorf("agent %s: payload is required: %w", a.id, domain.ErrValidation)
	}
	if !a.Supports(p.TaskType()) {
		return fmt.Errorf("agent %s does not support task type %q: %w", a.id, p.TaskType(), domain.ErrValidation)
	}
	if _, err := task.ParsePriority(string(priority)); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.id, err)
	}
	if a.validate != nil {
		if err := a.validate(p); err != nil {
			return fmt.Errorf("agent %s: %w", a.id, err)
		}
	}
	return nil
}

// SubmitTask validates p, stores a pending task and schedules processing.
// It returns as soon as the task is stored. Processing inherits ctx values
// (request id, trace) but not its cancellation.
func (a *BaseAgent) SubmitTask(ctx context.Context, p task.Payload, priority task.Priority) (string, error) {
	if err := a.ValidatePayload(p, priority); err != nil {
		return "", err
	}
	priority, _ = task.ParsePriority(string(priority))

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return "", fmt.Errorf("agent %s is shut down: %w", a.id, domain.ErrConflict)
	}
	t := task.New(uuid.NewString(), a.id, p, priority, a.now())
	a.tasks[t.ID] = t
	a.wg.Add(1)
	snap := t.Snapshot()
	a.mu.Unlock()

	logger.FromContext(ctx, a.log).Info("task submitted", "task_id", snap.ID, "task_type", snap.Type, "priority", snap.Priority)
	a.publish(ctx, event.TypeTaskSubmitted, snap)

	go a.run(context.WithoutCancel(ctx), snap.ID)
	return snap.ID, nil
}

// GetTask returns a snapshot of the task.
func (a *BaseAgent) GetTask(id string) (task.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s on agent %s: %w", id, a.id, domain.ErrNotFound)
	}
	return t.Snapshot(), nil
}

// Wait blocks until the task is terminal or ctx is done. A deadline
// expiry is reported as domain.ErrTimeout.
func (a *BaseAgent) Wait(ctx context.Context, id string) (task.Task, error) {
	a.mu.Lock()
	t, ok := a.tasks[id]
	if !ok {
		a.mu.Unlock()
		return task.Task{}, fmt.Errorf("task %s on agent %s: %w", id, a.id, domain.ErrNotFound)
	}
	if t.Status.Terminal() {
		snap := t.Snapshot()
		a.mu.Unlock()
		return snap, nil
	}
	ch, cancel := a.waiter.register(id)
	a.mu.Unlock()

	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		cancel()
		return task.Task{}, waitError("task "+id, ctx.Err())
	}
}

// Subscribe delivers this agent's lifecycle events in publication order.
func (a *BaseAgent) Subscribe(fn func(event.TaskEvent), types ...event.Type) func() {
	return a.bus.Subscribe(fn, types...)
}

// Status counts tasks by state.
func (a *BaseAgent) Status() task.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	var c task.Counts
	for _, t := range a.tasks {
		c.Add(t.Status)
	}
	return c
}

// Evict drops terminal tasks that completed before cutoff.
func (a *BaseAgent) Evict(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for id, t := range a.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(a.tasks, id)
			n++
		}
	}
	return n
}

// Shutdown stops accepting tasks and waits for in-flight ones. If ctx
// expires first, remaining tasks are failed and ctx's error is returned.
func (a *BaseAgent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.active = false
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		a.abort()
		<-done
		err = fmt.Errorf("agent %s shutdown: %w", a.id, ctx.Err())
	}
	a.abort()
	a.bus.Close()
	a.log.Info("agent stopped")
	return err
}

func (a *BaseAgent) run(ctx context.Context, id string) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.baseCtx, cancel)
	defer stop()

	log := logger.FromContext(ctx, a.log).With("task_id", id)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.fail(ctx, id, msgShuttingDown)
		return
	}
	defer a.sem.Release(1)

	a.mu.Lock()
	t, ok := a.tasks[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	if err := t.Start(a.now()); err != nil {
		a.mu.Unlock()
		log.Warn("task not startable", "error", err)
		return
	}
	snap := t.Snapshot()
	a.mu.Unlock()
	a.publish(ctx, event.TypeTaskProcessing, snap)
	log.Debug("task processing", "task_type", snap.Type)

	if a.taskTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, a.taskTimeout, errDeadline)
		defer cancelTimeout()
	}

	ctx, span := cfotel.StartTaskSpan(ctx, a.id, id, string(snap.Type))
	start := a.now()
	result, err := a.invoke(ctx, snap)
	cfotel.EndSpan(span, err)

	if err != nil {
		log.Warn("task failed", "task_type", snap.Type, "error", err, "duration", a.now().Sub(start))
		a.fail(ctx, id, err.Error())
		return
	}
	log.Info("task completed", "task_type", snap.Type, "duration", a.now().Sub(start))
	a.complete(ctx, id, result)
}

type outcome struct {
	result any
	err    error
}

// invoke runs the processor on its own goroutine so that a processor
// ignoring ctx still loses the race against the deadline.
func (a *BaseAgent) invoke(ctx context.Context, t task.Task) (any, error) {
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("task processor panicked", "task_id", t.ID, "panic", r)
				out <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := a.proc.Process(ctx, t)
		out <- outcome{result: res, err: err}
	}()

	select {
	case o := <-out:
		if o.err != nil && ctx.Err() != nil {
			return nil, stopError(ctx)
		}
		return o.result, o.err
	case <-ctx.Done():
		return nil, stopError(ctx)
	}
}

func stopError(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), errDeadline) {
		return errDeadline
	}
	return errors.New(msgShuttingDown)
}

func (a *BaseAgent) complete(ctx context.Context, id string, result any) {
	a.settle(ctx, id, func(t *task.Task) error { return t.Complete(result, a.now()) })
}

func (a *BaseAgent) fail(ctx context.Context, id, msg string) {
	a.settle(ctx, id, func(t *task.Task) error { return t.Fail(msg, a.now()) })
}

// settle applies a terminal transition, then wakes waiters and publishes.
// Transitions on terminal or evicted tasks are ignored.
func (a *BaseAgent) settle(ctx context.Context, id string, transition func(*task.Task) error) {
	a.mu.Lock()
	t, ok := a.tasks[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	if err := transition(t); err != nil {
		a.mu.Unlock()
		a.log.Debug("terminal transition ignored", "task_id", id, "error", err)
		return
	}
	snap := t.Snapshot()
	a.mu.Unlock()

	typ := event.TypeTaskCompleted
	if snap.Status == task.StatusFailed {
		typ = event.TypeTaskFailed
	}
	a.publish(ctx, typ, snap)
	a.waiter.deliver(id, snap)
}

func (a *BaseAgent) publish(ctx context.Context, typ event.Type, t task.Task) {
	var took time.Duration
	if t.StartedAt != nil && t.CompletedAt != nil {
		took = t.CompletedAt.Sub(*t.StartedAt)
	}
	a.bus.Publish(event.TaskEvent{
		Type:      typ,
		TaskID:    t.ID,
		AgentID:   a.id,
		TaskType:  t.Type,
		Result:    t.Result,
		Error:     t.Error,
		RequestID: logger.RequestID(ctx),
		Timestamp: a.now(),
		Duration:  took,
	})
}

// waitError maps a finished wait context onto the domain errors.
func waitError(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("waiting for %s: %w: %w", what, domain.ErrTimeout, err)
	}
	return fmt.Errorf("waiting for %s: %w", what, err)
}
