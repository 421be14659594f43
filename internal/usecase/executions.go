package usecase

import (
	"context"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
)

// ExecutionsUseCase is the read side of executions plus the user commands the
// engine accepts.
type ExecutionsUseCase struct {
	store  domrepo.ExecutionStore
	engine *Engine
}

func NewExecutionsUseCase(store domrepo.ExecutionStore, engine *Engine) *ExecutionsUseCase {
	return &ExecutionsUseCase{store: store, engine: engine}
}

func (uc *ExecutionsUseCase) Get(ctx context.Context, id string) (*models.Execution, error) {
	return uc.store.Get(ctx, id)
}

func (uc *ExecutionsUseCase) List(ctx context.Context, f models.ExecutionFilter) ([]*models.Execution, error) {
	return uc.store.List(ctx, f)
}

func (uc *ExecutionsUseCase) Pause(ctx context.Context, id string) (*models.Execution, error) {
	return uc.engine.Pause(ctx, id)
}

func (uc *ExecutionsUseCase) Resume(ctx context.Context, id string) (*models.Execution, error) {
	return uc.engine.Resume(ctx, id)
}

func (uc *ExecutionsUseCase) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	return uc.engine.Cancel(ctx, id)
}

// Decide applies an approve or reject decision.
func (uc *ExecutionsUseCase) Decide(ctx context.Context, id string, req *models.ApprovalRequest) (*models.Execution, error) {
	return uc.engine.Decide(ctx, id, req.Decision == "approve", req.DecidedBy)
}
