package service

import (
	"log/slog"

	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/agent"
)

// Agent kinds accepted in swarm.agents.
const (
	KindCurve     = "curve"
	KindValuation = "valuation"
)

// AgentFactories returns the constructors for every built-in agent kind,
// sharing the swarm's concurrency and deadline settings.
func AgentFactories(cfg *config.Config, curveDeps CurveDeps, log *slog.Logger) map[string]agent.Factory {
	common := []AgentOption{
		WithMaxConcurrent(cfg.Swarm.MaxConcurrentPerAgent),
		WithTaskTimeout(cfg.Swarm.TaskTimeout),
		WithEventBuffer(cfg.Swarm.EventBuffer),
		WithLogger(log),
	}
	return map[string]agent.Factory{
		KindCurve: func() (agent.Agent, error) {
			a, err := NewCurveAgent(cfg.Curve, curveDeps, common...)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		KindValuation: func() (agent.Agent, error) {
			return NewValuationAgent(common...), nil
		},
	}
}
