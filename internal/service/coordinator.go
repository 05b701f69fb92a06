package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/bsvalues/TerraBuild-sub001/internal/adapter/otel"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/eventbus"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/agent"
)

type registration struct {
	agent       agent.Agent
	unsubscribe func()
}

type subtaskKey struct {
	agentID string
	taskID  string
}

// SwarmStatus is the liveness summary of the coordinator and its agents.
type SwarmStatus struct {
	Agents     map[string]task.Counts `json:"agents"`
	Composites task.Counts            `json:"composites"`
}

// Coordinator owns the agent registry and aggregates composite tasks from
// the agents' terminal events. All composite state is guarded by mu; agent
// callbacks arrive on each agent's event goroutine.
type Coordinator struct {
	mu         sync.Mutex
	agents     map[string]registration
	composites map[string]*task.CompositeTask
	bySubtask  map[subtaskKey]string     // (agent, subtask) -> composite id
	results    map[string]map[string]any // composite id -> agent id -> subtask result

	bus    *eventbus.Bus
	waiter *terminalWaiter[task.CompositeTask]
	log    *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates an empty coordinator. eventBuffer is the initial
// queue capacity of each composite event subscriber.
func NewCoordinator(log *slog.Logger, eventBuffer int) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		agents:     make(map[string]registration),
		composites: make(map[string]*task.CompositeTask),
		bySubtask:  make(map[subtaskKey]string),
		results:    make(map[string]map[string]any),
		bus:        eventbus.New("coordinator", eventBuffer),
		waiter:     newTerminalWaiter[task.CompositeTask](),
		log:        log,
		now:        time.Now,
	}
}

// RegisterAgent adds a and subscribes to its terminal events. Registering
// an id again replaces the previous agent and its subscription.
func (c *Coordinator) RegisterAgent(a agent.Agent) {
	id := a.ID()
	unsubscribe := a.Subscribe(func(e event.TaskEvent) {
		c.onTaskEvent(id, e)
	}, event.TypeTaskCompleted, event.TypeTaskFailed)

	c.mu.Lock()
	prev, replaced := c.agents[id]
	c.agents[id] = registration{agent: a, unsubscribe: unsubscribe}
	c.mu.Unlock()

	if replaced {
		prev.unsubscribe()
	}
	c.log.Info("agent registered", "agent_id", id, "replaced", replaced)
}

// UnregisterAgent removes the agent. Subtasks already dispatched to it are
// no longer observed, so their composites stay processing until a sibling
// fails or they are evicted.
func (c *Coordinator) UnregisterAgent(id string) error {
	c.mu.Lock()
	reg, ok := c.agents[id]
	delete(c.agents, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	reg.unsubscribe()
	c.log.Info("agent unregistered", "agent_id", id)
	return nil
}

// Agent returns the registered agent with the given id.
func (c *Coordinator) Agent(id string) (agent.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s is not registered: %w", id, domain.ErrValidation)
	}
	return reg.agent, nil
}

// Agents describes every registered agent, sorted by id.
func (c *Coordinator) Agents() []task.AgentInfo {
	c.mu.Lock()
	regs := make([]agent.Agent, 0, len(c.agents))
	for _, r := range c.agents {
		regs = append(regs, r.agent)
	}
	c.mu.Unlock()

	out := make([]task.AgentInfo, 0, len(regs))
	for _, a := range regs {
		out = append(out, a.Info())
	}
	slices.SortFunc(out, func(x, y task.AgentInfo) int { return strings.Compare(x.ID, y.ID) })
	return out
}

// CreateTask fans a composite request out to one subtask per agent.
// Every spec is validated before anything is submitted; an unknown agent
// or an invalid payload rejects the whole request.
func (c *Coordinator) CreateTask(ctx context.Context, description string, specs map[string]task.SubtaskSpec) (string, error) {
	if len(specs) == 0 {
		return "", fmt.Errorf("composite task needs at least one subtask: %w", domain.ErrValidation)
	}

	ctx, span := cfotel.StartCompositeSpan(ctx, description, len(specs))
	var spanErr error
	defer func() { cfotel.EndSpan(span, spanErr) }()

	// Holding mu across submission keeps early terminal events queued until
	// the subtask index exists.
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		reg, ok := c.agents[id]
		if !ok {
			spanErr = fmt.Errorf("agent %s is not registered: %w", id, domain.ErrValidation)
			return "", spanErr
		}
		if err := reg.agent.ValidatePayload(specs[id].Data, specs[id].Priority); err != nil {
			spanErr = err
			return "", err
		}
	}

	subtasks := make(map[string]string, len(specs))
	for _, id := range ids {
		spec := specs[id]
		taskID, err := c.agents[id].agent.SubmitTask(ctx, spec.Data, spec.Priority)
		if err != nil {
			// Subtasks already dispatched keep running with no composite.
			if len(subtasks) > 0 {
				logger.FromContext(ctx, c.log).Warn("composite dispatch aborted, subtasks orphaned",
					"failed_agent", id, "orphaned_subtasks", subtasks, "error", err)
			}
			spanErr = fmt.Errorf("submit subtask to agent %s: %w", id, err)
			return "", spanErr
		}
		subtasks[id] = taskID
	}

	comp := task.NewComposite(uuid.NewString(), description, subtasks, c.now())
	c.composites[comp.ID] = comp
	for agentID, taskID := range subtasks {
		c.bySubtask[subtaskKey{agentID, taskID}] = comp.ID
	}
	logger.FromContext(ctx, c.log).Info("composite task created", "composite_id", comp.ID, "agents", ids)
	return comp.ID, nil
}

// GetTask returns a snapshot of the composite.
func (c *Coordinator) GetTask(id string) (task.CompositeTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.composites[id]
	if !ok {
		return task.CompositeTask{}, fmt.Errorf("composite task %s: %w", id, domain.ErrNotFound)
	}
	return comp.Snapshot(), nil
}

// Wait blocks until the composite is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, id string) (task.CompositeTask, error) {
	c.mu.Lock()
	comp, ok := c.composites[id]
	if !ok {
		c.mu.Unlock()
		return task.CompositeTask{}, fmt.Errorf("composite task %s: %w", id, domain.ErrNotFound)
	}
	if comp.Status.Terminal() {
		snap := comp.Snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	ch, cancel := c.waiter.register(id)
	c.mu.Unlock()

	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		cancel()
		return task.CompositeTask{}, waitError("composite task "+id, ctx.Err())
	}
}

// Subscribe delivers composite lifecycle events.
func (c *Coordinator) Subscribe(fn func(event.TaskEvent), types ...event.Type) func() {
	return c.bus.Subscribe(fn, types...)
}

// Status reports per-agent and composite counts.
func (c *Coordinator) Status() SwarmStatus {
	c.mu.Lock()
	regs := make(map[string]agent.Agent, len(c.agents))
	for id, r := range c.agents {
		regs[id] = r.agent
	}
	var comps task.Counts
	for _, comp := range c.composites {
		comps.Add(comp.Status)
	}
	c.mu.Unlock()

	st := SwarmStatus{Agents: make(map[string]task.Counts, len(regs)), Composites: comps}
	for id, a := range regs {
		st.Agents[id] = a.Status()
	}
	return st
}

// Evict drops terminal composites completed before cutoff.
func (c *Coordinator) Evict(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, comp := range c.composites {
		if !comp.Status.Terminal() || comp.CompletedAt == nil || !comp.CompletedAt.Before(cutoff) {
			continue
		}
		for agentID, taskID := range comp.Subtasks {
			delete(c.bySubtask, subtaskKey{agentID, taskID})
		}
		delete(c.composites, id)
		delete(c.results, id)
		n++
	}
	return n
}

// Close drops every agent subscription and drains composite events.
func (c *Coordinator) Close() {
	c.mu.Lock()
	regs := c.agents
	c.agents = make(map[string]registration)
	c.mu.Unlock()
	for _, r := range regs {
		r.unsubscribe()
	}
	c.bus.Close()
}

// onTaskEvent aggregates one terminal subtask event. Results are recorded
// per agent as they arrive, so replays are harmless and an agent evicting a
// finished subtask does not hold the composite back.
func (c *Coordinator) onTaskEvent(agentID string, e event.TaskEvent) {
	c.mu.Lock()
	compID, ok := c.bySubtask[subtaskKey{agentID, e.TaskID}]
	if !ok {
		c.mu.Unlock()
		return
	}
	comp := c.composites[compID]
	if comp == nil || comp.Status.Terminal() {
		c.mu.Unlock()
		return
	}

	var out event.TaskEvent
	switch e.Type {
	case event.TypeTaskFailed:
		if err := comp.Fail(agentID, e.Error, c.now()); err != nil {
			c.mu.Unlock()
			return
		}
		out = event.TaskEvent{Type: event.TypeCompositeFailed, CompositeID: comp.ID, AgentID: agentID, Error: comp.Error}
	case event.TypeTaskCompleted:
		results := c.results[compID]
		if results == nil {
			results = make(map[string]any, len(comp.Subtasks))
			c.results[compID] = results
		}
		results[agentID] = e.Result
		if len(results) < len(comp.Subtasks) {
			c.mu.Unlock()
			return
		}
		if err := comp.Complete(results, c.now()); err != nil {
			c.mu.Unlock()
			return
		}
		out = event.TaskEvent{Type: event.TypeCompositeCompleted, CompositeID: comp.ID, Result: results}
	default:
		c.mu.Unlock()
		return
	}
	delete(c.results, compID)
	snap := comp.Snapshot()
	c.mu.Unlock()

	out.RequestID = e.RequestID
	out.Timestamp = c.now()
	log := c.log.With("composite_id", snap.ID)
	if snap.Status == task.StatusFailed {
		log.Warn("composite task failed", "agent_id", agentID, "error", snap.Error)
	} else {
		log.Info("composite task completed")
	}
	c.bus.Publish(out)
	c.waiter.deliver(snap.ID, snap)
}
