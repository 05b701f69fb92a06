// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event type names sent over the broadcast channel.
const (
	EventTaskStatus      = "task.status"
	EventCompositeStatus = "composite.status"
	EventSwarmStatus     = "swarm.status"
)
