package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerMode selects what starts a pipeline run.
type TriggerMode string

const (
	TriggerSignal   TriggerMode = "signal"
	TriggerPeriodic TriggerMode = "periodic"
	TriggerManual   TriggerMode = "manual"
)

// ExecutionMode selects the broker environment an execution trades against.
type ExecutionMode string

const (
	ModeLive       ExecutionMode = "live"
	ModePaper      ExecutionMode = "paper"
	ModeSimulation ExecutionMode = "simulation"
	ModeValidation ExecutionMode = "validation"
)

// IsValidMode reports whether m is a known execution mode.
func IsValidMode(m ExecutionMode) bool {
	switch m {
	case ModeLive, ModePaper, ModeSimulation, ModeValidation:
		return true
	default:
		return false
	}
}

// Pipeline is a user-defined DAG of trading agents plus trigger, approval and budget settings.
type Pipeline struct {
	ID                     string               `json:"id"`
	Owner                  string               `json:"owner"`
	Name                   string               `json:"name"`
	Graph                  PipelineGraph        `json:"graph"`
	IsActive               bool                 `json:"is_active"`
	TriggerMode            TriggerMode          `json:"trigger_mode"`
	ScannerID              string               `json:"scanner_id,omitempty"`
	Symbols                []string             `json:"symbols,omitempty"`
	IntervalMinutes        int                  `json:"interval_minutes,omitempty"`
	SignalSubscriptions    []SignalSubscription `json:"signal_subscriptions,omitempty"`
	Mode                   ExecutionMode        `json:"mode"`
	RequireApproval        bool                 `json:"require_approval"`
	ApprovalModes          []ExecutionMode      `json:"approval_modes,omitempty"`
	ApprovalChannels       []string             `json:"approval_channels,omitempty"`
	ApprovalTimeoutMinutes int                  `json:"approval_timeout_minutes"`
	BudgetCap              *decimal.Decimal     `json:"budget_cap,omitempty"`
	CreatedAt              time.Time            `json:"created_at"`
	UpdatedAt              time.Time            `json:"updated_at"`
}

// MatchesSignal reports whether at least one subscription matches sig.
func (p *Pipeline) MatchesSignal(sig *Signal) bool {
	for _, sub := range p.SignalSubscriptions {
		if sub.Matches(sig) {
			return true
		}
	}
	return false
}

// RequiresApprovalFor reports whether trade nodes need a human decision in mode.
// An empty ApprovalModes list gates every mode.
func (p *Pipeline) RequiresApprovalFor(mode ExecutionMode) bool {
	if !p.RequireApproval {
		return false
	}
	if len(p.ApprovalModes) == 0 {
		return true
	}
	for _, m := range p.ApprovalModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ApprovalTimeout returns the approval wait as a duration.
func (p *Pipeline) ApprovalTimeout() time.Duration {
	return time.Duration(p.ApprovalTimeoutMinutes) * time.Minute
}
