package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PipelinesUseCase manages pipeline definitions. Every accepted pipeline has a
// valid DAG; graph problems never reach the engine.
type PipelinesUseCase struct {
	catalog  domrepo.CatalogStore
	agents   domsvc.AgentRegistry
	queue    domrepo.RequestQueue
	counters cache.Service
	registry Invalidator
	metrics  domrepo.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewPipelinesUseCase(
	catalog domrepo.CatalogStore,
	agents domsvc.AgentRegistry,
	queue domrepo.RequestQueue,
	counters cache.Service,
	registry Invalidator,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
) *PipelinesUseCase {
	return &PipelinesUseCase{
		catalog:  catalog,
		agents:   agents,
		queue:    queue,
		counters: counters,
		registry: registry,
		metrics:  metrics,
		logger:   lgr,
		now:      time.Now,
	}
}

// Create validates and stores a new pipeline.
func (uc *PipelinesUseCase) Create(ctx context.Context, req *models.CreatePipelineRequest) (*models.Pipeline, error) {
	verr := &models.ValidationErrors{}
	if err := req.Graph.Validate(); err != nil {
		var gv *models.ValidationErrors
		if errors.As(err, &gv) {
			verr.Errors = append(verr.Errors, gv.Errors...)
		} else {
			verr.Add("graph", "ERR_INVALID", err.Error())
		}
	}
	known := make(map[string]bool)
	for _, t := range uc.agents.Types() {
		known[t] = true
	}
	for i, n := range req.Graph.Nodes {
		if n.AgentType != "" && !known[n.AgentType] {
			verr.Add(fmt.Sprintf("graph.nodes[%d].agent_type", i), "ERR_UNKNOWN_AGENT", fmt.Sprintf("unknown agent type %q", n.AgentType))
		}
	}

	switch req.TriggerMode {
	case models.TriggerSignal:
		if req.ScannerID == "" {
			verr.Add("scanner_id", "ERR_REQUIRED", "scanner_id is required for signal triggered pipelines")
		}
		if len(req.SignalSubscriptions) == 0 {
			verr.Add("signal_subscriptions", "ERR_REQUIRED", "at least one signal subscription is required")
		}
	case models.TriggerPeriodic:
		if req.IntervalMinutes <= 0 {
			verr.Add("interval_minutes", "ERR_GT", "interval_minutes must be greater than 0 for periodic pipelines")
		}
		if req.ScannerID == "" && len(req.Symbols) == 0 {
			verr.Add("symbols", "ERR_REQUIRED", "periodic pipelines need a scanner_id or symbols")
		}
	default:
		verr.Add("trigger_mode", "ERR_ONEOF", "trigger_mode must be signal or periodic; use the run endpoint for manual runs")
	}
	if req.ScannerID != "" {
		if _, err := uc.catalog.GetScanner(ctx, req.ScannerID); err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
			verr.Add("scanner_id", "ERR_NOT_FOUND", fmt.Sprintf("scanner %q does not exist", req.ScannerID))
		}
	}

	var budget *decimal.Decimal
	if req.BudgetCap != "" {
		b, err := decimal.NewFromString(req.BudgetCap)
		if err != nil || b.IsNegative() {
			verr.Add("budget_cap", "ERR_NUMERIC", "budget_cap must be a non-negative decimal")
		} else {
			budget = &b
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := uc.now()
	p := &models.Pipeline{
		ID:                     uuid.NewString(),
		Owner:                  req.Owner,
		Name:                   req.Name,
		Graph:                  req.Graph,
		IsActive:               req.IsActive,
		TriggerMode:            req.TriggerMode,
		ScannerID:              req.ScannerID,
		Symbols:                models.NormalizeTickers(req.Symbols),
		IntervalMinutes:        req.IntervalMinutes,
		SignalSubscriptions:    req.SignalSubscriptions,
		Mode:                   req.Mode,
		RequireApproval:        req.RequireApproval,
		ApprovalModes:          req.ApprovalModes,
		ApprovalChannels:       req.ApprovalChannels,
		ApprovalTimeoutMinutes: req.ApprovalTimeoutMinutes,
		BudgetCap:              budget,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := uc.catalog.SavePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("save pipeline: %w", err)
	}
	uc.registry.Invalidate()
	uc.logger.Info("pipeline created",
		logger.String("pipeline_id", p.ID),
		logger.String("owner", p.Owner),
		logger.String("trigger_mode", string(p.TriggerMode)),
		logger.Int("nodes", len(p.Graph.Nodes)))
	return p, nil
}

func (uc *PipelinesUseCase) Get(ctx context.Context, id string) (*models.Pipeline, error) {
	return uc.catalog.GetPipeline(ctx, id)
}

func (uc *PipelinesUseCase) List(ctx context.Context) ([]*models.Pipeline, error) {
	return uc.catalog.ListPipelines(ctx)
}

// SetActive activates or deactivates a pipeline. Activation resets the
// consecutive failure count.
func (uc *PipelinesUseCase) SetActive(ctx context.Context, id string, active bool) (*models.Pipeline, error) {
	p, err := uc.catalog.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsActive == active {
		return p, nil
	}
	p.IsActive = active
	p.UpdatedAt = uc.now()
	if err := uc.catalog.SavePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("save pipeline: %w", err)
	}
	if active && uc.counters != nil {
		_ = uc.counters.Delete(ctx, failureKey(id))
	}
	uc.registry.Invalidate()
	uc.logger.Info("pipeline activation changed", logger.String("pipeline_id", id), logger.Bool("active", active))
	return p, nil
}

// Run enqueues a manual execution request. Manual runs ignore is_active.
func (uc *PipelinesUseCase) Run(ctx context.Context, id string, req *models.RunPipelineRequest) (*models.ExecutionRequest, error) {
	p, err := uc.catalog.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = p.Mode
	}
	er := &models.ExecutionRequest{
		ID:          uuid.NewString(),
		PipelineID:  p.ID,
		Symbol:      models.NormalizeSymbol(req.Symbol),
		TriggerMode: models.TriggerManual,
		Mode:        mode,
		Coalesced:   1,
		RequestedAt: uc.now(),
	}
	if err := uc.queue.TryEnqueue(ctx, er); err != nil {
		if errors.Is(err, models.ErrQueueFull) {
			uc.metrics.PipelineSkipped("queue_full")
		}
		return nil, err
	}
	uc.metrics.PipelineEnqueued(string(models.TriggerManual))
	return er, nil
}
