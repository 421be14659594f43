package usecase

import (
	"context"
	"errors"
	"fmt"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/repository"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/queue"
)

// ExecutionJob consumes execution requests from the queue. Each shard worker
// runs its request to completion or suspension before taking the next, so
// requests sharing a (pipeline, symbol) key are never reordered.
type ExecutionJob struct {
	engine *Engine
	logger *logger.Logger
}

func NewExecutionJob(engine *Engine, lgr *logger.Logger) *ExecutionJob {
	return &ExecutionJob{engine: engine, logger: lgr}
}

func (j *ExecutionJob) Name() string { return "execution-runner" }

func (j *ExecutionJob) Type() string { return repository.ExecutionRequestType }

func (j *ExecutionJob) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[models.ExecutionRequest](payload)
	if err != nil {
		j.logger.Error("bad execution request payload", logger.Error(err))
		return nil
	}
	id, err := j.engine.Submit(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound):
		j.logger.Warn("execution request for unknown pipeline dropped",
			logger.String("pipeline_id", req.PipelineID),
			logger.String("symbol", req.Symbol))
		return nil
	case errors.Is(err, models.ErrExecutionBusy):
		return nil
	default:
		return fmt.Errorf("execution %s: %w", id, err)
	}
}

var _ queue.Job = (*ExecutionJob)(nil)
