package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/agent"
)

// TaskFailedError is returned by the Run* calls when the task or composite
// reached the failed state. Its message is the stored error string.
type TaskFailedError struct {
	ID      string
	Message string
}

func (e *TaskFailedError) Error() string { return e.Message }

// SubtaskRequest is one agent's share of a composite request in wire form.
type SubtaskRequest struct {
	Type     task.Type       `json:"type"`
	Data     json.RawMessage `json:"data"`
	Priority string          `json:"priority,omitempty"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSinks adds event sinks fed with every task and composite event.
func WithSinks(sinks ...EventSink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithRunnerLogger sets the runner and coordinator logger. A nil logger
// keeps slog.Default.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Runner is the swarm handle: it builds the configured agents, registers
// them with its coordinator and exposes submit-then-await calls. There is
// no package-level instance; callers pass the Runner explicitly.
type Runner struct {
	cfg       config.Swarm
	factories map[string]agent.Factory
	sinks     []EventSink
	log       *slog.Logger

	coord *Coordinator

	mu          sync.Mutex
	started     bool
	agents      []agent.Agent
	unsubscribe []func()
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// NewRunner creates an uninitialized runner. factories maps the agent
// kinds named in cfg.Agents to their constructors.
func NewRunner(cfg config.Swarm, factories map[string]agent.Factory, opts ...RunnerOption) *Runner {
	r := &Runner{cfg: cfg, factories: factories, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.coord = NewCoordinator(r.log, r.cfg.EventBuffer)
	return r
}

// Coordinator returns the runner's coordinator.
func (r *Runner) Coordinator() *Coordinator { return r.coord }

// Initialize builds and registers every configured agent, wires the event
// sinks and starts the janitor.
func (r *Runner) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already initialized: %w", domain.ErrConflict)
	}

	for _, kind := range r.cfg.Agents {
		a, err := r.build(kind)
		if err != nil {
			r.discard(ctx)
			return err
		}
		r.coord.RegisterAgent(a)
		r.agents = append(r.agents, a)
		if len(r.sinks) > 0 {
			r.unsubscribe = append(r.unsubscribe, a.Subscribe(r.relay))
		}
	}
	if len(r.sinks) > 0 {
		r.unsubscribe = append(r.unsubscribe, r.coord.Subscribe(r.relay))
	}

	if r.cfg.TaskTTL > 0 && r.cfg.EvictInterval > 0 {
		jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.stopJanitor = cancel
		r.janitorDone = make(chan struct{})
		go r.janitor(jctx)
	}

	r.started = true
	r.log.Info("swarm initialized", "agents", r.cfg.Agents, "sinks", len(r.sinks))
	return nil
}

func (r *Runner) build(kind string) (agent.Agent, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q: %w", kind, domain.ErrValidation)
	}
	a, err := f()
	if err != nil {
		return nil, fmt.Errorf("create agent %q: %w", kind, err)
	}
	return a, nil
}

// discard undoes a partial Initialize. Must be called with r.mu held.
func (r *Runner) discard(ctx context.Context) {
	for _, u := range r.unsubscribe {
		u()
	}
	for _, a := range r.agents {
		_ = r.coord.UnregisterAgent(a.ID())
		if err := a.Shutdown(ctx); err != nil {
			r.log.Warn("agent shutdown after failed init", "agent_id", a.ID(), "error", err)
		}
	}
	r.agents, r.unsubscribe = nil, nil
}

// Shutdown stops the janitor, shuts every agent down concurrently and
// closes the coordinator.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	agents := r.agents
	unsubscribe := r.unsubscribe
	r.agents, r.unsubscribe = nil, nil
	stop, done := r.stopJanitor, r.janitorDone
	r.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error { return a.Shutdown(gctx) })
	}
	err := g.Wait()

	for _, u := range unsubscribe {
		u()
	}
	r.coord.Close()
	r.log.Info("swarm stopped")
	return err
}

// Agents describes the registered agents.
func (r *Runner) Agents() []task.AgentInfo { return r.coord.Agents() }

// Status reports task counts per agent and for composites.
func (r *Runner) Status() SwarmStatus { return r.coord.Status() }

// SubmitTask decodes raw into the agent's payload for taskType and submits
// it without waiting.
func (r *Runner) SubmitTask(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (string, error) {
	a, p, prio, err := r.decode(agentID, taskType, raw, priority)
	if err != nil {
		return "", err
	}
	return a.SubmitTask(ctx, p, prio)
}

// RunTask submits p to agentID and waits for its terminal state.
func (r *Runner) RunTask(ctx context.Context, agentID string, p task.Payload, priority task.Priority) (any, error) {
	a, err := r.coord.Agent(agentID)
	if err != nil {
		return nil, err
	}
	id, err := a.SubmitTask(ctx, p, priority)
	if err != nil {
		return nil, err
	}
	return r.await(ctx, a, id)
}

// RunTaskJSON is RunTask for wire-form payloads.
func (r *Runner) RunTaskJSON(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (any, error) {
	a, p, prio, err := r.decode(agentID, taskType, raw, priority)
	if err != nil {
		return nil, err
	}
	id, err := a.SubmitTask(ctx, p, prio)
	if err != nil {
		return nil, err
	}
	return r.await(ctx, a, id)
}

// GetTask returns a snapshot of a task owned by agentID.
func (r *Runner) GetTask(agentID, taskID string) (task.Task, error) {
	a, err := r.coord.Agent(agentID)
	if err != nil {
		return task.Task{}, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return a.GetTask(taskID)
}

// SubmitCompositeTask decodes and fans out a composite request without waiting.
func (r *Runner) SubmitCompositeTask(ctx context.Context, description string, reqs map[string]SubtaskRequest) (string, error) {
	specs := make(map[string]task.SubtaskSpec, len(reqs))
	for agentID, req := range reqs {
		_, p, prio, err := r.decode(agentID, req.Type, req.Data, req.Priority)
		if err != nil {
			return "", err
		}
		specs[agentID] = task.SubtaskSpec{Data: p, Priority: prio}
	}
	return r.coord.CreateTask(ctx, description, specs)
}

// RunCompositeTask fans out a composite request and waits for it. The
// result maps each agent id to its subtask result.
func (r *Runner) RunCompositeTask(ctx context.Context, description string, reqs map[string]SubtaskRequest) (map[string]any, error) {
	id, err := r.SubmitCompositeTask(ctx, description, reqs)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.waitContext(ctx)
	defer cancel()
	comp, err := r.coord.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if comp.Status == task.StatusFailed {
		return nil, &TaskFailedError{ID: id, Message: comp.Error}
	}
	return comp.Result, nil
}

// GetCompositeTask returns a snapshot of a composite.
func (r *Runner) GetCompositeTask(id string) (task.CompositeTask, error) {
	return r.coord.GetTask(id)
}

func (r *Runner) decode(agentID string, taskType task.Type, raw json.RawMessage, priority string) (agent.Agent, task.Payload, task.Priority, error) {
	a, err := r.coord.Agent(agentID)
	if err != nil {
		return nil, nil, "", err
	}
	prio, err := task.ParsePriority(priority)
	if err != nil {
		return nil, nil, "", err
	}
	p, err := a.DecodePayload(taskType, raw)
	if err != nil {
		return nil, nil, "", err
	}
	return a, p, prio, nil
}

func (r *Runner) await(ctx context.Context, a agent.Agent, id string) (any, error) {
	ctx, cancel := r.waitContext(ctx)
	defer cancel()
	t, err := a.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusFailed {
		return nil, &TaskFailedError{ID: id, Message: t.Error}
	}
	return t.Result, nil
}

func (r *Runner) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.WaitTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.WaitTimeout)
	}
	return context.WithCancel(ctx)
}

// relay forwards one event to every sink. It runs on the publishing bus's
// subscriber goroutine, so sinks see each source's events in order.
func (r *Runner) relay(e event.TaskEvent) {
	ctx := context.Background()
	if e.RequestID != "" {
		ctx = logger.WithRequestID(ctx, e.RequestID)
	}
	for _, sink := range r.sinks {
		sink(ctx, e)
	}
}

// janitor evicts terminal tasks and composites older than TaskTTL.
func (r *Runner) janitor(ctx context.Context) {
	defer close(r.janitorDone)
	ticker := time.NewTicker(r.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.evict(now.Add(-r.cfg.TaskTTL))
		}
	}
}

func (r *Runner) evict(cutoff time.Time) (tasks, composites int) {
	r.mu.Lock()
	agents := r.agents
	r.mu.Unlock()
	for _, a := range agents {
		tasks += a.Evict(cutoff)
	}
	composites = r.coord.Evict(cutoff)
	if tasks > 0 || composites > 0 {
		r.log.Debug("evicted terminal entries", "tasks", tasks, "composites", composites)
	}
	return tasks, composites
}
