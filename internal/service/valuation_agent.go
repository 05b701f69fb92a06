package service

import (
	"context"
	"fmt"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/valuation"
)

// ValuationAgentID is the routing id of the valuation agent.
const ValuationAgentID = "valuation"

// ValuationAgent computes replacement cost new and depreciated value.
type ValuationAgent struct {
	*BaseAgent
}

// NewValuationAgent creates the valuation agent.
func NewValuationAgent(opts ...AgentOption) *ValuationAgent {
	a := &ValuationAgent{}
	opts = append([]AgentOption{
		WithDescription("Calculates replacement cost new and depreciated property value", "valuation", "rcn"),
	}, opts...)
	a.BaseAgent = NewBaseAgent(ValuationAgentID, "Valuation Agent", a,
		[]Capability{CapabilityFor[valuation.Payload](valuation.TypeCalculate)}, opts...)
	return a
}

func (a *ValuationAgent) Process(_ context.Context, t task.Task) (any, error) {
	p, ok := t.Data.(valuation.Payload)
	if !ok {
		return nil, fmt.Errorf("unsupported payload %T", t.Data)
	}
	return valuation.Calculate(p, a.now().Year()), nil
}
