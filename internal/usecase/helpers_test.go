package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/internal/repository"
	"AgentFlow/internal/service/ledger"
	"AgentFlow/internal/services/agents"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"

	"github.com/shopspring/decimal"
)

type mockMetrics struct {
	mu       sync.Mutex
	skipped  map[string]int
	enqueued map[string]int
	finished map[string]int
	matched  int
	signals  int
	redeliv  int
	batches  []int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{skipped: map[string]int{}, enqueued: map[string]int{}, finished: map[string]int{}}
}

func (m *mockMetrics) SignalGenerated(string) {
	m.mu.Lock()
	m.signals++
	m.mu.Unlock()
}

func (m *mockMetrics) SignalRedelivered() {
	m.mu.Lock()
	m.redeliv++
	m.mu.Unlock()
}

func (m *mockMetrics) redelivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redeliv
}

func (m *mockMetrics) PipelineMatched() {
	m.mu.Lock()
	m.matched++
	m.mu.Unlock()
}

func (m *mockMetrics) PipelineEnqueued(triggerMode string) {
	m.mu.Lock()
	m.enqueued[triggerMode]++
	m.mu.Unlock()
}

func (m *mockMetrics) PipelineSkipped(reason string) {
	m.mu.Lock()
	m.skipped[reason]++
	m.mu.Unlock()
}

func (m *mockMetrics) BatchSize(n int) {
	m.mu.Lock()
	m.batches = append(m.batches, n)
	m.mu.Unlock()
}

func (m *mockMetrics) ExecutionFinished(status, _ string, _ float64) {
	m.mu.Lock()
	m.finished[status]++
	m.mu.Unlock()
}

func (m *mockMetrics) AgentCost(string, decimal.Decimal) {}
func (m *mockMetrics) QueueDepth(int)                    {}
func (m *mockMetrics) KafkaPublish(string, bool)         {}

func (m *mockMetrics) skips(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipped[reason]
}

// mockQueue is a bounded in-memory RequestQueue.
type mockQueue struct {
	mu    sync.Mutex
	limit int
	err   error
	reqs  []*models.ExecutionRequest
}

func (q *mockQueue) TryEnqueue(_ context.Context, req *models.ExecutionRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.limit > 0 && len(q.reqs) >= q.limit {
		return models.ErrQueueFull
	}
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *mockQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

func (q *mockQueue) all() []*models.ExecutionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.ExecutionRequest(nil), q.reqs...)
}

// fakeAgent returns a fixed result and records its invocations.
type fakeAgent struct {
	typ    string
	cost   string
	output map[string]any
	err    error
	places bool

	mu    sync.Mutex
	calls []domsvc.AgentInput
}

func (a *fakeAgent) Type() string { return a.typ }

func (a *fakeAgent) Run(_ context.Context, in domsvc.AgentInput) (domsvc.AgentResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, in)
	a.mu.Unlock()
	if a.err != nil {
		return domsvc.AgentResult{}, a.err
	}
	out := a.output
	if out == nil {
		out = map[string]any{"agent": a.typ}
	}
	cost := decimal.Zero
	if a.cost != "" {
		cost = decimal.RequireFromString(a.cost)
	}
	return domsvc.AgentResult{Output: out, Cost: cost}, nil
}

func (a *fakeAgent) PlacesTrades() bool { return a.places }

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*models.ExecutionEvent
}

func (r *recordingEvents) PublishExecution(_ context.Context, ev *models.ExecutionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingEvents) statuses() []models.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExecutionStatus
	for _, ev := range r.events {
		if len(out) == 0 || out[len(out)-1] != ev.Status {
			out = append(out, ev.Status)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Channel() string { return "test" }

func (n *recordingNotifier) RequestApproval(_ context.Context, e *models.Execution, _ *models.Pipeline) error {
	n.mu.Lock()
	n.calls = append(n.calls, e.ID)
	n.mu.Unlock()
	return nil
}

// fakeTimer captures armed approval timers so tests fire them by hand.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeTimers struct {
	mu    sync.Mutex
	armed []*fakeTimer
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.armed = append(ft.armed, t)
	return t
}

func (ft *fakeTimers) last() *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.armed) == 0 {
		return nil
	}
	return ft.armed[len(ft.armed)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// engineFixture wires an Engine over in-memory stores.
type engineFixture struct {
	engine   *Engine
	store    *repository.MemoryExecutionStore
	catalog  *repository.MemoryCatalog
	locks    *cache.MemoryCache
	metrics  *mockMetrics
	events   *recordingEvents
	notifier *recordingNotifier
	timers   *fakeTimers
	clock    *testClock
	ledger   *ledger.Ledger
}

func newEngineFixture(t *testing.T, cfg EngineConfig, agentList ...domsvc.Agent) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    repository.NewMemoryExecutionStore(),
		catalog:  repository.NewMemoryCatalog(),
		metrics:  newMockMetrics(),
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
		timers:   &fakeTimers{},
		clock:    &testClock{now: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)},
	}
	f.locks = cache.NewMemoryCache(cache.WithMemoryClock(f.clock.Now))
	f.ledger = ledger.New(f.metrics, logger.NewNop(), ledger.WithClock(f.clock.Now))
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}
	f.engine = NewEngine(f.store, f.catalog, agents.NewRegistry(agentList...), f.ledger, f.locks, f.events, f.metrics, logger.NewNop(), cfg,
		WithEngineClock(f.clock.Now),
		WithAfterFunc(f.timers.afterFunc),
		WithNotifiers(f.notifier))
	t.Cleanup(func() { _ = f.locks.Close() })
	return f
}

func (f *engineFixture) savePipeline(t *testing.T, p *models.Pipeline) *models.Pipeline {
	t.Helper()
	if p.Mode == "" {
		p.Mode = models.ModePaper
	}
	if err := f.catalog.SavePipeline(context.Background(), p); err != nil {
		t.Fatalf("SavePipeline() error = %v", err)
	}
	return p
}

func (f *engineFixture) get(t *testing.T, id string) *models.Execution {
	t.Helper()
	e, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return e
}

func (f *engineFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.engine.Wait(ctx); err != nil {
		t.Fatalf("engine did not settle: %v", err)
	}
}

// chain builds a linear graph over the given agent types; node ids equal the types.
func chain(types ...string) models.PipelineGraph {
	g := models.PipelineGraph{}
	for i, typ := range types {
		g.Nodes = append(g.Nodes, models.NodeSpec{ID: typ, AgentType: typ})
		if i > 0 {
			g.Edges = append(g.Edges, models.Edge{From: types[i-1], To: typ})
		}
	}
	return g
}

func mustNotErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func mustErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
