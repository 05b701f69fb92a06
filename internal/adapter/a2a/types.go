package a2a

// AgentCard describes the swarm's capabilities per the A2A protocol.
type AgentCard struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	URL          string       `json:"url"`
	Version      string       `json:"version"`
	Skills       []Skill      `json:"skills"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities lists optional protocol features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// Skill is one agent task type, addressed as "<agentId>.<taskType>".
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// TaskRequest represents an incoming A2A task request.
type TaskRequest struct {
	ID    string         `json:"id"`
	Skill string         `json:"skill"`
	Input map[string]any `json:"input"` //nolint:gosec // A2A protocol requires flexible input
}

// Task states reported to A2A clients.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// TaskResponse represents an A2A task response.
type TaskResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"` //nolint:gosec // A2A protocol requires flexible output
	Error  string         `json:"error,omitempty"`
}
