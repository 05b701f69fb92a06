package task

// AgentInfo describes a registered agent for status and discovery surfaces.
type AgentInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []Type   `json:"capabilities"`
	Active       bool     `json:"active"`
	Counts       Counts   `json:"counts"`
	Tags         []string `json:"tags,omitempty"`
}
