package repository

import (
	"context"
	"errors"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/queue"
)

// ExecutionRequestType is the queue message type carrying an ExecutionRequest.
const ExecutionRequestType = "execution.request"

// RequestQueue adapts a key-ordered queue to the execution request port.
// Requests are keyed by (pipeline, symbol).
type RequestQueue struct {
	q       queue.Enqueuer
	metrics domrepo.Metrics
}

func NewRequestQueue(q queue.Enqueuer, metrics domrepo.Metrics) *RequestQueue {
	return &RequestQueue{q: q, metrics: metrics}
}

func (r *RequestQueue) TryEnqueue(ctx context.Context, req *models.ExecutionRequest) error {
	err := r.q.TryEnqueue(ctx, req.Key(), ExecutionRequestType, req)
	if r.metrics != nil {
		r.metrics.QueueDepth(r.q.Depth())
	}
	if errors.Is(err, queue.ErrFull) {
		return models.ErrQueueFull
	}
	return err
}

func (r *RequestQueue) Depth() int { return r.q.Depth() }

var _ domrepo.RequestQueue = (*RequestQueue)(nil)
