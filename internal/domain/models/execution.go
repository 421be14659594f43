package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the state of an execution's state machine.
type ExecutionStatus string

const (
	StatusPending             ExecutionStatus = "pending"
	StatusRunning             ExecutionStatus = "running"
	StatusAwaitingApproval    ExecutionStatus = "awaiting_approval"
	StatusMonitoring          ExecutionStatus = "monitoring"
	StatusPaused              ExecutionStatus = "paused"
	StatusCommunicationError  ExecutionStatus = "communication_error"
	StatusCompleted           ExecutionStatus = "completed"
	StatusFailed              ExecutionStatus = "failed"
	StatusCancelled           ExecutionStatus = "cancelled"
	StatusNeedsReconciliation ExecutionStatus = "needs_reconciliation"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNeedsReconciliation:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status.
func (s ExecutionStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:             {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:             {StatusAwaitingApproval, StatusMonitoring, StatusCompleted, StatusFailed, StatusPaused, StatusCommunicationError},
	StatusAwaitingApproval:    {StatusRunning, StatusCancelled},
	StatusMonitoring:          {StatusCompleted, StatusCommunicationError, StatusNeedsReconciliation, StatusPaused},
	StatusCommunicationError:  {StatusMonitoring, StatusCompleted, StatusNeedsReconciliation, StatusPaused},
	StatusPaused:              {StatusRunning, StatusMonitoring, StatusCancelled},
	StatusCompleted:           nil,
	StatusFailed:              nil,
	StatusCancelled:           nil,
	StatusNeedsReconciliation: nil,
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AgentStatus is the state of a single node invocation.
type AgentStatus string

const (
	AgentPending          AgentStatus = "pending"
	AgentRunning          AgentStatus = "running"
	AgentCompleted        AgentStatus = "completed"
	AgentFailed           AgentStatus = "failed"
	AgentSkipped          AgentStatus = "skipped"
	AgentAwaitingApproval AgentStatus = "awaiting_approval"
)

// AgentState tracks one node of an execution.
type AgentState struct {
	NodeID       string          `json:"node_id"`
	AgentType    string          `json:"agent_type"`
	Status       AgentStatus     `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Output       map[string]any  `json:"output,omitempty"`
	Cost         decimal.Decimal `json:"cost"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ApprovalStatus is the state of a human approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Approval records the gate in front of a trade-placing node.
type Approval struct {
	Status      ApprovalStatus `json:"status"`
	NodeID      string         `json:"node_id"`
	Channels    []string       `json:"channels,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
}

// MonitorState is the durable broker polling cursor of a monitored execution.
type MonitorState struct {
	OrderID    string    `json:"order_id"`
	Broker     string    `json:"broker"`
	NextPollAt time.Time `json:"next_poll_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// Execution is one run of a pipeline graph.
type Execution struct {
	ID           string           `json:"id"`
	PipelineID   string           `json:"pipeline_id"`
	Mode         ExecutionMode    `json:"mode"`
	TriggerMode  TriggerMode      `json:"trigger_mode"`
	Symbol       string           `json:"symbol"`
	Signal       *Signal          `json:"signal,omitempty"`
	Status       ExecutionStatus  `json:"status"`
	PausedFrom   ExecutionStatus  `json:"paused_from,omitempty"`
	AgentStates  []AgentState     `json:"agent_states"`
	CostTotal    decimal.Decimal  `json:"cost_total"`
	BudgetCap    *decimal.Decimal `json:"budget_cap,omitempty"`
	Approval     *Approval        `json:"approval,omitempty"`
	Monitor      *MonitorState    `json:"monitor,omitempty"`
	PnL          *decimal.Decimal `json:"pnl,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Version      uint64           `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewExecution builds a pending execution with one pending AgentState per node.
func NewExecution(id string, p *Pipeline, req *ExecutionRequest, now time.Time) *Execution {
	states := make([]AgentState, 0, len(p.Graph.Nodes))
	for _, n := range p.Graph.Nodes {
		states = append(states, AgentState{NodeID: n.ID, AgentType: n.AgentType, Status: AgentPending, Cost: decimal.Zero})
	}
	mode := req.Mode
	if mode == "" {
		mode = p.Mode
	}
	var budget *decimal.Decimal
	if p.BudgetCap != nil {
		b := *p.BudgetCap
		budget = &b
	}
	return &Execution{
		ID:          id,
		PipelineID:  p.ID,
		Mode:        mode,
		TriggerMode: req.TriggerMode,
		Symbol:      req.Symbol,
		Signal:      req.Signal,
		Status:      StatusPending,
		AgentStates: states,
		CostTotal:   decimal.Zero,
		BudgetCap:   budget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo moves the execution to status to, maintaining timestamps.
func (e *Execution) TransitionTo(to ExecutionStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	if to == StatusPaused {
		e.PausedFrom = e.Status
	} else if e.Status == StatusPaused {
		e.PausedFrom = ""
	}
	if to == StatusRunning && e.StartedAt == nil {
		t := now
		e.StartedAt = &t
	}
	if to.IsTerminal() {
		t := now
		e.CompletedAt = &t
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// NodeState returns the AgentState for nodeID, or nil.
func (e *Execution) NodeState(nodeID string) *AgentState {
	for i := range e.AgentStates {
		if e.AgentStates[i].NodeID == nodeID {
			return &e.AgentStates[i]
		}
	}
	return nil
}

// RunningNode returns the node currently marked running, or nil.
func (e *Execution) RunningNode() *AgentState {
	for i := range e.AgentStates {
		if e.AgentStates[i].Status == AgentRunning {
			return &e.AgentStates[i]
		}
	}
	return nil
}

// SkipPending marks every not-yet-started node skipped.
func (e *Execution) SkipPending() {
	for i := range e.AgentStates {
		switch e.AgentStates[i].Status {
		case AgentPending, AgentAwaitingApproval:
			e.AgentStates[i].Status = AgentSkipped
		}
	}
}

// CompletedCost sums the cost of completed nodes.
func (e *Execution) CompletedCost() decimal.Decimal {
	total := decimal.Zero
	for _, s := range e.AgentStates {
		if s.Status == AgentCompleted {
			total = total.Add(s.Cost)
		}
	}
	return total
}

// Outputs returns the outputs of completed nodes keyed by node id.
func (e *Execution) Outputs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, s := range e.AgentStates {
		if s.Status == AgentCompleted {
			out[s.NodeID] = s.Output
		}
	}
	return out
}

// Clone returns a deep enough copy for handing out of a store.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.AgentStates = make([]AgentState, len(e.AgentStates))
	for i, s := range e.AgentStates {
		if s.Output != nil {
			out := make(map[string]any, len(s.Output))
			for k, v := range s.Output {
				out[k] = v
			}
			s.Output = out
		}
		c.AgentStates[i] = s
	}
	if e.Signal != nil {
		sig := *e.Signal
		c.Signal = &sig
	}
	if e.Approval != nil {
		a := *e.Approval
		c.Approval = &a
	}
	if e.Monitor != nil {
		m := *e.Monitor
		c.Monitor = &m
	}
	return &c
}

// ExecutionFilter selects executions for listing.
type ExecutionFilter struct {
	PipelineID string
	Status     ExecutionStatus
	Limit      int
}
