package repository

import (
	"context"

	"AgentFlow/internal/domain/models"

	"github.com/shopspring/decimal"
)

// SignalStream reads signals from an upstream producer.
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Signal, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalPublisher publishes normalized signals onto the signal stream.
type SignalPublisher interface {
	Publish(ctx context.Context, s *models.Signal) error
	PublishBatch(ctx context.Context, signals []*models.Signal) error
	Close() error
}

// ExecutionStore persists executions.
// Create stores version 1. Save succeeds only when e.Version matches the stored
// version and increments e.Version; otherwise it returns models.ErrVersionConflict.
type ExecutionStore interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, e *models.Execution) error
	Save(ctx context.Context, e *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	List(ctx context.Context, f models.ExecutionFilter) ([]*models.Execution, error)
	ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error)
}

// CatalogStore persists pipelines and scanners.
type CatalogStore interface {
	SavePipeline(ctx context.Context, p *models.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*models.Pipeline, error)
	SaveScanner(ctx context.Context, s *models.Scanner) error
	GetScanner(ctx context.Context, id string) (*models.Scanner, error)
	ListScanners(ctx context.Context) ([]*models.Scanner, error)
}

// CostSink durably records agent costs. Implementations may be asynchronous.
type CostSink interface {
	Record(ctx context.Context, entry models.CostEntry) error
}

// CostReader reads aggregated cost history.
type CostReader interface {
	AgentTotals(ctx context.Context) ([]models.AgentCost, error)
}

// EventPublisher fans out execution events to subscribers.
type EventPublisher interface {
	PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error
}

// RequestQueue is the bounded execution request queue.
type RequestQueue interface {
	TryEnqueue(ctx context.Context, req *models.ExecutionRequest) error
	Depth() int
}

// Metrics is the recording surface used by the trigger and execution core.
type Metrics interface {
	SignalGenerated(source string)
	SignalRedelivered()
	PipelineMatched()
	PipelineEnqueued(triggerMode string)
	PipelineSkipped(reason string)
	BatchSize(n int)
	ExecutionFinished(status, triggerMode string, seconds float64)
	AgentCost(agentType string, amount decimal.Decimal)
	QueueDepth(n int)
	KafkaPublish(topic string, ok bool)
}
