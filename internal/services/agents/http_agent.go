package agents

import (
	"context"
	"fmt"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"

	"github.com/shopspring/decimal"
)

type agentRequest struct {
	ExecutionID string                    `json:"execution_id"`
	PipelineID  string                    `json:"pipeline_id"`
	NodeID      string                    `json:"node_id"`
	Symbol      string                    `json:"symbol"`
	Mode        models.ExecutionMode      `json:"mode"`
	Signal      *models.Signal            `json:"signal,omitempty"`
	Config      map[string]any            `json:"config,omitempty"`
	Inputs      map[string]map[string]any `json:"inputs,omitempty"`
	MaxCost     *decimal.Decimal          `json:"max_cost,omitempty"`
}

type agentResponse struct {
	Output map[string]any  `json:"output"`
	Cost   decimal.Decimal `json:"cost"`
	Error  string          `json:"error,omitempty"`
}

// HTTPAgent delegates a node to the analysis service. The service reports what
// the call cost; bias and strategy agents are HTTPAgents on different paths.
type HTTPAgent struct {
	agentType string
	path      string
	base      *HTTPServiceBase
}

func NewHTTPAgent(agentType, path string, base *HTTPServiceBase) *HTTPAgent {
	return &HTTPAgent{agentType: agentType, path: path, base: base}
}

// NewBiasAgent returns the market bias agent.
func NewBiasAgent(base *HTTPServiceBase) *HTTPAgent {
	return NewHTTPAgent(TypeBias, "/agents/bias", base)
}

// NewStrategyAgent returns the strategy generation agent.
func NewStrategyAgent(base *HTTPServiceBase) *HTTPAgent {
	return NewHTTPAgent(TypeStrategy, "/agents/strategy", base)
}

func (a *HTTPAgent) Type() string { return a.agentType }

func (a *HTTPAgent) Run(ctx context.Context, in domsvc.AgentInput) (domsvc.AgentResult, error) {
	req := agentRequest{
		ExecutionID: in.ExecutionID,
		PipelineID:  in.PipelineID,
		NodeID:      in.NodeID,
		Symbol:      in.Symbol,
		Mode:        in.Mode,
		Signal:      in.Signal,
		Config:      in.Config,
		Inputs:      in.Inputs,
		MaxCost:     in.RemainingBudget,
	}
	var resp agentResponse
	if err := a.base.PostJSONWithRetry(ctx, a.path, req, &resp); err != nil {
		return domsvc.AgentResult{}, fmt.Errorf("%s agent: %w", a.agentType, err)
	}
	if resp.Error != "" {
		return domsvc.AgentResult{Cost: resp.Cost}, fmt.Errorf("%s agent: %s", a.agentType, resp.Error)
	}
	if resp.Output == nil {
		resp.Output = map[string]any{}
	}
	return domsvc.AgentResult{Output: resp.Output, Cost: resp.Cost}, nil
}

var _ domsvc.Agent = (*HTTPAgent)(nil)
