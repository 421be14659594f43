package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"

	"github.com/shopspring/decimal"
)

type aggregate struct {
	total decimal.Decimal
	count int64
}

// Ledger keeps running cost totals per execution and per agent type.
// Only the engine records costs; agents never see the ledger.
type Ledger struct {
	mu      sync.Mutex
	running map[string]decimal.Decimal
	agents  map[string]*aggregate
	sink    repository.CostSink
	reader  repository.CostReader
	metrics repository.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink durably records every cost entry.
func WithSink(s repository.CostSink) Option { return func(l *Ledger) { l.sink = s } }

// WithReader serves AgentTotals from cost history instead of process memory.
func WithReader(r repository.CostReader) Option { return func(l *Ledger) { l.reader = r } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func New(metrics repository.Metrics, lgr *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		running: make(map[string]decimal.Decimal),
		agents:  make(map[string]*aggregate),
		metrics: metrics,
		logger:  lgr,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RecordCost adds amount to the execution's running total and to the agent type
// aggregate, stores the new total on e and returns it. The first record for an
// execution seeds the running total from e.CostTotal so resumed executions keep
// their history.
func (l *Ledger) RecordCost(ctx context.Context, e *models.Execution, nodeID, agentType string, amount decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	total, ok := l.running[e.ID]
	if !ok {
		total = e.CostTotal
	}
	total = total.Add(amount)
	l.running[e.ID] = total
	agg, ok := l.agents[agentType]
	if !ok {
		agg = &aggregate{total: decimal.Zero}
		l.agents[agentType] = agg
	}
	agg.total = agg.total.Add(amount)
	agg.count++
	l.mu.Unlock()

	e.CostTotal = total
	if l.metrics != nil {
		l.metrics.AgentCost(agentType, amount)
	}
	if l.sink != nil {
		entry := models.CostEntry{
			ExecutionID: e.ID,
			PipelineID:  e.PipelineID,
			NodeID:      nodeID,
			AgentType:   agentType,
			Amount:      amount.String(),
			RecordedAt:  l.now(),
		}
		if err := l.sink.Record(ctx, entry); err != nil {
			l.logger.Warn("cost sink record failed",
				logger.String("execution_id", e.ID),
				logger.String("node_id", nodeID),
				logger.Error(err))
		}
	}
	return total
}

// CheckBudget compares the execution's total against its cap.
// It returns an error wrapping models.ErrBudgetExceeded when the total is above the cap.
func (l *Ledger) CheckBudget(e *models.Execution) error {
	if e.BudgetCap == nil {
		return nil
	}
	if e.CostTotal.GreaterThan(*e.BudgetCap) {
		return fmt.Errorf("%w: cost %s above cap %s", models.ErrBudgetExceeded, e.CostTotal.String(), e.BudgetCap.String())
	}
	return nil
}

// Total returns the running total for an execution still tracked by the ledger.
func (l *Ledger) Total(executionID string) (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.running[executionID]
	return t, ok
}

// Release forgets the running total of a finished execution.
func (l *Ledger) Release(executionID string) {
	l.mu.Lock()
	delete(l.running, executionID)
	l.mu.Unlock()
}

// AgentTotals returns cost aggregates per agent type, sorted by type.
func (l *Ledger) AgentTotals(ctx context.Context) ([]models.AgentCost, error) {
	if l.reader != nil {
		return l.reader.AgentTotals(ctx)
	}
	l.mu.Lock()
	out := make([]models.AgentCost, 0, len(l.agents))
	for t, a := range l.agents {
		out = append(out, models.AgentCost{AgentType: t, Total: a.total.String(), Count: a.count})
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out, nil
}
