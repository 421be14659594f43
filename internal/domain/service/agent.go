package service

import (
	"context"

	"AgentFlow/internal/domain/models"

	"github.com/shopspring/decimal"
)

// AgentInput is what the engine hands to a node invocation.
type AgentInput struct {
	ExecutionID string
	PipelineID  string
	NodeID      string
	Symbol      string
	Mode        models.ExecutionMode
	Signal      *models.Signal
	Config      map[string]any
	// Inputs holds predecessor outputs keyed by node id.
	Inputs map[string]map[string]any
	// RemainingBudget is nil when the pipeline has no cap.
	RemainingBudget *decimal.Decimal
}

// AgentResult is a node's structured output and what it cost.
type AgentResult struct {
	Output map[string]any
	Cost   decimal.Decimal
}

// Agent is the capability behind one agent_type.
type Agent interface {
	Type() string
	Run(ctx context.Context, in AgentInput) (AgentResult, error)
}

// AgentRegistry resolves the implementation registered for an agent_type.
type AgentRegistry interface {
	Lookup(agentType string) (Agent, error)
	Types() []string
}

// TradePlacer marks agents whose invocation places a broker order.
// Such nodes are gated by approval and may hand the execution to the monitor.
type TradePlacer interface {
	PlacesTrades() bool
}

// Output keys a trade-placing agent uses to report an open position.
const (
	OutputOrderID = "order_id"
	OutputBroker  = "broker"
	OutputOpen    = "position_open"
)
