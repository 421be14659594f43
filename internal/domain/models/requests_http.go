package models

// CreatePipelineRequest is the body of POST /api/pipelines.
type CreatePipelineRequest struct {
	Owner                  string               `json:"owner" validate:"required"`
	Name                   string               `json:"name" validate:"required,max=128"`
	Graph                  PipelineGraph        `json:"graph"`
	IsActive               bool                 `json:"is_active"`
	TriggerMode            TriggerMode          `json:"trigger_mode" default:"signal" validate:"oneof=signal periodic"`
	ScannerID              string               `json:"scanner_id"`
	Symbols                []string             `json:"symbols"`
	IntervalMinutes        int                  `json:"interval_minutes" validate:"gte=0"`
	SignalSubscriptions    []SignalSubscription `json:"signal_subscriptions" validate:"dive"`
	Mode                   ExecutionMode        `json:"mode" default:"paper" validate:"oneof=live paper simulation validation"`
	RequireApproval        bool                 `json:"require_approval"`
	ApprovalModes          []ExecutionMode      `json:"approval_modes" validate:"dive,oneof=live paper simulation validation"`
	ApprovalChannels       []string             `json:"approval_channels"`
	ApprovalTimeoutMinutes int                  `json:"approval_timeout_minutes" default:"15" validate:"gte=1"`
	BudgetCap              string               `json:"budget_cap" validate:"omitempty,numeric"`
}

// CreateScannerRequest is the body of POST /api/scanners.
type CreateScannerRequest struct {
	Owner                  string      `json:"owner" validate:"required"`
	Name                   string      `json:"name" validate:"required,max=128"`
	Type                   ScannerType `json:"type" default:"manual" validate:"oneof=manual filter api"`
	Tickers                []string    `json:"tickers"`
	RefreshIntervalMinutes int         `json:"refresh_interval_minutes" default:"60" validate:"gte=0"`
}

// SetTickersRequest replaces the ticker set of a scanner.
type SetTickersRequest struct {
	Tickers []string `json:"tickers" validate:"required"`
}

// ApprovalRequest is the body of POST /api/executions/:id/approval.
type ApprovalRequest struct {
	Decision  string `json:"decision" validate:"required,oneof=approve reject"`
	DecidedBy string `json:"decided_by"`
}

// ListExecutionsRequest binds the query of GET /api/executions.
type ListExecutionsRequest struct {
	PipelineID string `query:"pipeline_id"`
	Status     string `query:"status"`
	Limit      int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// RunPipelineRequest is the body of POST /api/pipelines/:id/run.
type RunPipelineRequest struct {
	Symbol string        `json:"symbol" validate:"required"`
	Mode   ExecutionMode `json:"mode" validate:"omitempty,oneof=live paper simulation validation"`
}

// IngestSignalRequest is the body of POST /api/signals.
type IngestSignalRequest struct {
	ID         string  `json:"id"`
	SignalType string  `json:"signal_type" validate:"required"`
	Symbol     string  `json:"symbol" validate:"required"`
	Timeframe  string  `json:"timeframe"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=100"`
	Source     string  `json:"source" default:"api"`
}

// CandlesRequest binds GET /api/market/:symbol/candles.
type CandlesRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	From   string `query:"from"`
	To     string `query:"to"`
	TF     string `query:"tf" default:"5m"`
	Limit  int    `query:"limit" default:"1000" validate:"gte=1,lte=50000"`
}

// FeaturesRequest binds GET /api/market/:symbol/features.
type FeaturesRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	TF     string `query:"tf" default:"5m"`
	Bars   int    `query:"bars" default:"100" validate:"gte=2,lte=5000"`
	Window int    `query:"window" default:"20" validate:"gte=1"`
}
