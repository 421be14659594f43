package usecase

import (
	"context"
	"errors"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/service/registry"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

// SnapshotSource serves the current catalog snapshot.
type SnapshotSource interface {
	Snapshot() (*registry.Snapshot, error)
}

// Scheduler enqueues periodic pipelines once per interval. The due marker is a
// lease that expires after the pipeline interval, so several processes share
// one schedule.
type Scheduler struct {
	source  SnapshotSource
	queue   domrepo.RequestQueue
	locks   cache.Service
	metrics domrepo.Metrics
	logger  *logger.Logger
	tick    time.Duration
	now     func() time.Time
}

func NewScheduler(source SnapshotSource, queue domrepo.RequestQueue, locks cache.Service, metrics domrepo.Metrics, lgr *logger.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{source: source, queue: queue, locks: locks, metrics: metrics, logger: lgr, tick: tick, now: time.Now}
}

// Start ticks until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					s.logger.Warn("scheduler tick failed", logger.Error(err))
				}
			}
		}
	}()
}

// Tick enqueues every due periodic pipeline and returns the number of requests enqueued.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	snap, err := s.source.Snapshot()
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, p := range snap.Periodic() {
		interval := time.Duration(p.IntervalMinutes) * time.Minute
		if interval <= 0 {
			continue
		}
		due, err := s.locks.AcquireLease(ctx, cache.GenerateKey("sched", p.ID), "scheduler", interval)
		if err != nil {
			s.logger.Warn("schedule marker unavailable", logger.String("pipeline_id", p.ID), logger.Error(err))
			continue
		}
		if !due {
			continue
		}
		symbols := p.Symbols
		if p.ScannerID != "" {
			if sc, ok := snap.Scanner(p.ScannerID); ok {
				symbols = sc.Tickers
			}
		}
		for _, sym := range symbols {
			if s.enqueue(ctx, p, sym) {
				enqueued++
			}
		}
	}
	return enqueued, nil
}

func (s *Scheduler) enqueue(ctx context.Context, p *models.Pipeline, symbol string) bool {
	req := &models.ExecutionRequest{
		ID:          uuid.NewString(),
		PipelineID:  p.ID,
		Symbol:      models.NormalizeSymbol(symbol),
		TriggerMode: models.TriggerPeriodic,
		Coalesced:   1,
		RequestedAt: s.now(),
	}
	s.metrics.PipelineMatched()
	err := s.queue.TryEnqueue(ctx, req)
	switch {
	case err == nil:
		s.metrics.PipelineEnqueued(string(models.TriggerPeriodic))
		return true
	case errors.Is(err, models.ErrQueueFull):
		s.metrics.PipelineSkipped("queue_full")
	default:
		s.metrics.PipelineSkipped("enqueue_error")
		s.logger.Error("periodic enqueue failed",
			logger.String("pipeline_id", p.ID),
			logger.String("symbol", req.Symbol),
			logger.Error(err))
	}
	return false
}
