package models

import "time"

// ExecutionRequest asks the engine to run one pipeline for one symbol.
type ExecutionRequest struct {
	ID          string        `json:"id"`
	PipelineID  string        `json:"pipeline_id"`
	Symbol      string        `json:"symbol"`
	Signal      *Signal       `json:"signal,omitempty"`
	TriggerMode TriggerMode   `json:"trigger_mode"`
	Mode        ExecutionMode `json:"mode,omitempty"`
	Coalesced   int           `json:"coalesced"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Key is the ordering key; requests sharing it are never reordered.
func (r *ExecutionRequest) Key() string {
	return r.PipelineID + "|" + r.Symbol
}

// AgentCost is an aggregated cost row per agent type.
type AgentCost struct {
	AgentType string `json:"agent_type"`
	Total     string `json:"total"`
	Count     int64  `json:"count"`
}

// CostEntry is a single recorded agent cost.
type CostEntry struct {
	ExecutionID string    `json:"execution_id"`
	PipelineID  string    `json:"pipeline_id"`
	NodeID      string    `json:"node_id"`
	AgentType   string    `json:"agent_type"`
	Amount      string    `json:"amount"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ExecutionEvent is published for every persisted execution transition.
type ExecutionEvent struct {
	ExecutionID string          `json:"execution_id"`
	PipelineID  string          `json:"pipeline_id"`
	Symbol      string          `json:"symbol"`
	Status      ExecutionStatus `json:"status"`
	NodeID      string          `json:"node_id,omitempty"`
	Version     uint64          `json:"version"`
	Execution   *Execution      `json:"execution,omitempty"`
	At          time.Time       `json:"at"`
}
