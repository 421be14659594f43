package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/queue"
)

func TestMemoryExecutionStoreVersioning(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	e := &models.Execution{ID: "e1", PipelineID: "p1", Status: models.StatusPending, CreatedAt: time.Now()}

	if err := s.Create(ctx, e); err != nil || e.Version != 1 {
		t.Fatalf("create: %v version=%d", err, e.Version)
	}
	stale := e.Clone()

	e.Status = models.StatusRunning
	if err := s.Save(ctx, e); err != nil || e.Version != 2 {
		t.Fatalf("save: %v version=%d", err, e.Version)
	}
	stale.Status = models.StatusCancelled
	if err := s.Save(ctx, stale); !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, _ := s.Get(ctx, "e1")
	if got.Status != models.StatusRunning {
		t.Fatalf("stale write leaked: %s", got.Status)
	}
	got.Status = models.StatusFailed
	again, _ := s.Get(ctx, "e1")
	if again.Status != models.StatusRunning {
		t.Fatalf("store must hand out copies")
	}
}

func TestMemoryExecutionStoreList(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now()
	for i, st := range []models.ExecutionStatus{models.StatusPending, models.StatusFailed, models.StatusPending} {
		_ = s.Create(ctx, &models.Execution{ID: string(rune('a' + i)), PipelineID: "p1", Status: st, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	rows, _ := s.List(ctx, models.ExecutionFilter{PipelineID: "p1", Limit: 2})
	if len(rows) != 2 || rows[0].ID != "c" {
		t.Fatalf("expected newest first with limit, got %d rows", len(rows))
	}
	pending, _ := s.ListByStatus(ctx, models.StatusPending)
	if len(pending) != 2 || pending[0].ID != "a" {
		t.Fatalf("unexpected pending rows: %d", len(pending))
	}
	if _, err := s.Get(ctx, "zz"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestQueueMapsFull(t *testing.T) {
	q := queue.NewMemoryQueue(logger.NewNop(), &queue.QueueConfig{Shards: 1, Capacity: 1})
	rq := NewRequestQueue(q, nil)
	ctx := context.Background()
	if err := rq.TryEnqueue(ctx, &models.ExecutionRequest{PipelineID: "p1", Symbol: "AAPL"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := rq.TryEnqueue(ctx, &models.ExecutionRequest{PipelineID: "p1", Symbol: "AAPL"}); !errors.Is(err, models.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if rq.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", rq.Depth())
	}
}
