package a2a

import (
	"fmt"
	"strings"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

const skillSep = "."

// BuildAgentCard publishes one skill per task type of every active agent.
func BuildAgentCard(baseURL, version string, agents []task.AgentInfo) AgentCard {
	card := AgentCard{
		Name:        "TerraBuild Swarm",
		Description: "Building cost curve training and property valuation agents",
		URL:         baseURL,
		Version:     version,
		Skills:      []Skill{},
	}
	for _, a := range agents {
		if !a.Active {
			continue
		}
		for _, t := range a.Capabilities {
			card.Skills = append(card.Skills, Skill{
				ID:          skillID(a.ID, t),
				Name:        fmt.Sprintf("%s: %s", a.Name, t),
				Description: a.Description,
				Tags:        a.Tags,
				InputModes:  []string{"application/json"},
				OutputModes: []string{"application/json"},
			})
		}
	}
	return card
}

func skillID(agentID string, t task.Type) string {
	return agentID + skillSep + string(t)
}

// parseSkill splits a skill id into agent id and task type.
func parseSkill(id string) (string, task.Type, bool) {
	agentID, t, ok := strings.Cut(id, skillSep)
	if !ok || agentID == "" || t == "" {
		return "", "", false
	}
	return agentID, task.Type(t), true
}
