package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

// Dedup key granularities for batching.
const (
	DedupBySymbol          = "symbol"
	DedupBySymbolTimeframe = "symbol_timeframe"
)

// Matcher resolves the pipelines subscribed to a signal.
type Matcher interface {
	Match(sig *models.Signal) ([]*models.Pipeline, error)
}

// DispatcherConfig tunes batching and redelivery suppression. A batch closes
// once BatchWindow passes without a new match, or MaxBatchWait after it opened.
type DispatcherConfig struct {
	BatchWindow    time.Duration
	MaxBatchWait   time.Duration
	DedupKey       string
	SignalDedupTTL time.Duration
}

// DispatcherStats are the dispatcher counters since start.
type DispatcherStats struct {
	Received    int64 `json:"received"`
	Redelivered int64 `json:"redelivered"`
	Matched     int64 `json:"matched"`
	Duplicates  int64 `json:"duplicates"`
	Enqueued    int64 `json:"enqueued"`
	Skipped     int64 `json:"skipped"`
}

type pendingBatch struct {
	req    *models.ExecutionRequest
	count  int
	opened time.Time
	gen    int
	timer  Timer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock replaces the time source and the batch timers.
func WithDispatcherClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
		d.afterFunc = afterFunc
	}
}

// Dispatcher turns signals into execution requests. Matches for the same key
// inside the batch window collapse into one request carrying the highest
// confidence signal. It never blocks on the execution queue.
type Dispatcher struct {
	matcher Matcher
	queue   domrepo.RequestQueue
	seen    cache.Service
	metrics domrepo.Metrics
	logger  *logger.Logger
	cfg     DispatcherConfig
	now     func() time.Time

	afterFunc func(time.Duration, func()) Timer

	mu      sync.Mutex
	pending map[string]*pendingBatch

	received    atomic.Int64
	redelivered atomic.Int64
	matched     atomic.Int64
	duplicates  atomic.Int64
	enqueued    atomic.Int64
	skipped     atomic.Int64
}

func NewDispatcher(matcher Matcher, queue domrepo.RequestQueue, seen cache.Service, metrics domrepo.Metrics, lgr *logger.Logger, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.DedupKey == "" {
		cfg.DedupKey = DedupBySymbol
	}
	if cfg.MaxBatchWait < cfg.BatchWindow {
		cfg.MaxBatchWait = 3 * cfg.BatchWindow
	}
	d := &Dispatcher{
		matcher:   matcher,
		queue:     queue,
		seen:      seen,
		metrics:   metrics,
		logger:    lgr,
		cfg:       cfg,
		now:       time.Now,
		afterFunc: func(wait time.Duration, f func()) Timer { return time.AfterFunc(wait, f) },
		pending:   make(map[string]*pendingBatch),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OnSignal matches one signal and batches or enqueues a request per matched
// pipeline. Failures are isolated to the signal and never returned.
func (d *Dispatcher) OnSignal(ctx context.Context, sig *models.Signal) error {
	defer func() {
		if r := recover(); r != nil {
			d.skip("panic")
			d.logger.Error("dispatcher panic", logger.String("signal_id", sig.ID), logger.Any("panic", r))
		}
	}()
	if sig == nil {
		return nil
	}
	d.received.Add(1)

	if d.redelivery(ctx, sig) {
		d.redelivered.Add(1)
		d.metrics.SignalRedelivered()
		d.logger.Debug("signal redelivered", logger.String("signal_id", sig.ID))
		return nil
	}

	pipes, err := d.matcher.Match(sig)
	if err != nil {
		d.skip("lookup_error")
		d.logger.Warn("pipeline lookup failed",
			logger.String("signal_id", sig.ID),
			logger.String("symbol", sig.Symbol),
			logger.Error(err))
		return nil
	}
	for _, p := range pipes {
		d.matched.Add(1)
		d.metrics.PipelineMatched()
		d.add(ctx, p, sig)
	}
	return nil
}

// redelivery reports whether the signal id was already seen within the TTL.
func (d *Dispatcher) redelivery(ctx context.Context, sig *models.Signal) bool {
	if d.seen == nil || sig.ID == "" || d.cfg.SignalDedupTTL <= 0 {
		return false
	}
	first, err := d.seen.TryLock(ctx, cache.GenerateKey("signal:seen", sig.ID), d.cfg.SignalDedupTTL)
	if err != nil {
		d.logger.Warn("signal dedup unavailable", logger.String("signal_id", sig.ID), logger.Error(err))
		return false
	}
	return !first
}

func (d *Dispatcher) batchKey(pipelineID string, sig *models.Signal) string {
	key := pipelineID + "|" + models.NormalizeSymbol(sig.Symbol)
	if d.cfg.DedupKey == DedupBySymbolTimeframe {
		key += "|" + sig.Timeframe
	}
	return key
}

func (d *Dispatcher) add(ctx context.Context, p *models.Pipeline, sig *models.Signal) {
	req := &models.ExecutionRequest{
		ID:          uuid.NewString(),
		PipelineID:  p.ID,
		Symbol:      models.NormalizeSymbol(sig.Symbol),
		Signal:      sig,
		TriggerMode: models.TriggerSignal,
		RequestedAt: d.now(),
	}
	if d.cfg.BatchWindow <= 0 {
		d.enqueue(ctx, req, 1)
		return
	}

	key := d.batchKey(p.ID, sig)
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.pending[key]; ok {
		b.count++
		if sig.Confidence > b.req.Signal.Confidence {
			b.req.Signal = sig
		}
		d.duplicates.Add(1)
		d.skip("duplicate")
		d.extend(key, b)
		return
	}
	b := &pendingBatch{req: req, count: 1, opened: d.now()}
	d.arm(key, b, d.cfg.BatchWindow)
	d.pending[key] = b
}

// arm schedules the flush of b. A timer left over from an earlier generation
// finds a newer gen and does nothing. Caller holds d.mu.
func (d *Dispatcher) arm(key string, b *pendingBatch, wait time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = d.afterFunc(wait, func() { d.flushKey(key, b, gen) })
}

// extend restarts the quiet period of b, capped at MaxBatchWait from the
// first signal. Caller holds d.mu.
func (d *Dispatcher) extend(key string, b *pendingBatch) {
	wait := d.cfg.BatchWindow
	if left := b.opened.Add(d.cfg.MaxBatchWait).Sub(d.now()); left < wait {
		wait = left
	}
	if wait <= 0 {
		return
	}
	d.arm(key, b, wait)
}

func (d *Dispatcher) flushKey(key string, b *pendingBatch, gen int) {
	d.mu.Lock()
	cur, ok := d.pending[key]
	if !ok || cur != b || b.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	d.enqueue(context.Background(), b.req, b.count)
}

// Flush enqueues every open batch now. Used on shutdown and by tests.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	batches := make([]*pendingBatch, 0, len(d.pending))
	for key, b := range d.pending {
		b.timer.Stop()
		batches = append(batches, b)
		delete(d.pending, key)
	}
	d.mu.Unlock()
	for _, b := range batches {
		d.enqueue(context.Background(), b.req, b.count)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, req *models.ExecutionRequest, count int) {
	req.Coalesced = count
	d.metrics.BatchSize(count)
	err := d.queue.TryEnqueue(ctx, req)
	switch {
	case err == nil:
		d.enqueued.Add(1)
		d.metrics.PipelineEnqueued(string(req.TriggerMode))
		d.logger.Debug("execution request enqueued",
			logger.String("pipeline_id", req.PipelineID),
			logger.String("symbol", req.Symbol),
			logger.Int("coalesced", count))
	case errors.Is(err, models.ErrQueueFull):
		d.skip("queue_full")
		d.logger.Warn("execution queue full, request skipped",
			logger.String("pipeline_id", req.PipelineID),
			logger.String("symbol", req.Symbol))
	default:
		d.skip("enqueue_error")
		d.logger.Error("enqueue execution request failed",
			logger.String("pipeline_id", req.PipelineID),
			logger.String("symbol", req.Symbol),
			logger.Error(err))
	}
}

func (d *Dispatcher) skip(reason string) {
	d.skipped.Add(1)
	d.metrics.PipelineSkipped(reason)
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Received:    d.received.Load(),
		Redelivered: d.redelivered.Load(),
		Matched:     d.matched.Load(),
		Duplicates:  d.duplicates.Load(),
		Enqueued:    d.enqueued.Load(),
		Skipped:     d.skipped.Load(),
	}
}
