package ledger

import (
	"context"
	"errors"
	"testing"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"

	"github.com/shopspring/decimal"
)

type mockSink struct {
	entries []models.CostEntry
	err     error
}

func (m *mockSink) Record(_ context.Context, e models.CostEntry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func TestRecordCostAndBudget(t *testing.T) {
	sink := &mockSink{}
	l := New(nil, logger.NewNop(), WithSink(sink))
	capAmt := decimal.RequireFromString("0.05")
	e := &models.Execution{ID: "e1", PipelineID: "p1", CostTotal: decimal.Zero, BudgetCap: &capAmt}

	total := l.RecordCost(context.Background(), e, "n1", "bias", decimal.RequireFromString("0.02"))
	if !total.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected total %s", total)
	}
	if err := l.CheckBudget(e); err != nil {
		t.Fatalf("budget should hold: %v", err)
	}

	l.RecordCost(context.Background(), e, "n2", "strategy", decimal.RequireFromString("0.05"))
	if !e.CostTotal.Equal(decimal.RequireFromString("0.07")) {
		t.Fatalf("execution total not updated: %s", e.CostTotal)
	}
	if err := l.CheckBudget(e); !errors.Is(err, models.ErrBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	if len(sink.entries) != 2 || sink.entries[1].Amount != "0.05" {
		t.Fatalf("unexpected sink entries: %+v", sink.entries)
	}
}

func TestBudgetEqualToCapIsAllowed(t *testing.T) {
	l := New(nil, logger.NewNop())
	capAmt := decimal.RequireFromString("0.05")
	e := &models.Execution{ID: "e1", CostTotal: decimal.Zero, BudgetCap: &capAmt}
	l.RecordCost(context.Background(), e, "n1", "bias", capAmt)
	if err := l.CheckBudget(e); err != nil {
		t.Fatalf("total equal to cap must not fail: %v", err)
	}
}

func TestRecordCostSeedsFromExecution(t *testing.T) {
	l := New(nil, logger.NewNop())
	e := &models.Execution{ID: "e1", CostTotal: decimal.RequireFromString("1.5")}
	l.RecordCost(context.Background(), e, "n3", "risk_manager", decimal.RequireFromString("0.5"))
	got, ok := l.Total("e1")
	if !ok || !got.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected seeded total 2, got %s (%v)", got, ok)
	}
	l.Release("e1")
	if _, ok := l.Total("e1"); ok {
		t.Fatalf("released execution still tracked")
	}
}

func TestAgentTotalsSorted(t *testing.T) {
	sink := &mockSink{err: errors.New("down")}
	l := New(nil, logger.NewNop(), WithSink(sink))
	ctx := context.Background()
	l.RecordCost(ctx, &models.Execution{ID: "a"}, "n", "strategy", decimal.RequireFromString("0.1"))
	l.RecordCost(ctx, &models.Execution{ID: "b"}, "n", "bias", decimal.RequireFromString("0.2"))
	l.RecordCost(ctx, &models.Execution{ID: "c"}, "n", "strategy", decimal.RequireFromString("0.3"))

	rows, err := l.AgentTotals(ctx)
	if err != nil {
		t.Fatalf("AgentTotals: %v", err)
	}
	if len(rows) != 2 || rows[0].AgentType != "bias" || rows[1].Total != "0.4" || rows[1].Count != 2 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
