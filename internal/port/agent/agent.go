// Package agent defines the port implemented by every swarm agent and
// consumed by the coordinator and runner.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/event"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// Agent is a named, capability-tagged worker that owns its task table.
type Agent interface {
	// ID returns the unique agent identifier used for routing.
	ID() string

	// Info describes the agent for status and discovery surfaces.
	Info() task.AgentInfo

	// Supports reports whether t is one of the agent's capabilities.
	Supports(t task.Type) bool

	// DecodePayload parses raw JSON into the payload variant for t.
	DecodePayload(t task.Type, raw json.RawMessage) (task.Payload, error)

	// ValidatePayload runs every submission check without storing anything.
	ValidatePayload(p task.Payload, priority task.Priority) error

	// SubmitTask validates p, stores a pending task and schedules processing
	// without waiting for it. Invalid payloads are rejected and never stored.
	SubmitTask(ctx context.Context, p task.Payload, priority task.Priority) (string, error)

	// GetTask returns a snapshot of the task.
	GetTask(id string) (task.Task, error)

	// Wait blocks until the task is terminal or ctx is done.
	Wait(ctx context.Context, id string) (task.Task, error)

	// Subscribe delivers lifecycle events of the given types (all when none
	// are given) in publication order. The returned function unsubscribes.
	Subscribe(fn func(event.TaskEvent), types ...event.Type) (unsubscribe func())

	// Status counts tasks by state.
	Status() task.Counts

	// Evict drops terminal tasks completed before cutoff and returns how many.
	Evict(cutoff time.Time) int

	// Shutdown stops accepting work and waits for in-flight tasks.
	Shutdown(ctx context.Context) error
}

// Factory builds an agent for a configured agent kind.
type Factory func() (Agent, error)
