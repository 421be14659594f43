package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	pkgch "AgentFlow/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newMockStore(t *testing.T) (*CHExecutionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCHExecutionStore(pkgch.NewClientFromDB(db)), mock
}

func sampleExecution() *models.Execution {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	return &models.Execution{
		ID:          "e1",
		PipelineID:  "p1",
		Mode:        models.ModePaper,
		Symbol:      "AAPL",
		Status:      models.StatusRunning,
		CostTotal:   decimal.RequireFromString("0.02"),
		AgentStates: []models.AgentState{{NodeID: "n1", AgentType: "bias", Status: models.AgentCompleted, Cost: decimal.RequireFromString("0.02")}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCHExecutionStoreCreate(t *testing.T) {
	s, mock := newMockStore(t)
	e := sampleExecution()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agentflow.executions")).
		WithArgs("e1", "p1", "running", "paper", "AAPL", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Create(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1, got %d", e.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCHExecutionStoreSaveRejectsStaleVersion(t *testing.T) {
	s, mock := newMockStore(t)
	e := sampleExecution()
	e.Version = 2

	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM agentflow.executions FINAL WHERE id = ?")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	err := s.Save(context.Background(), e)
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if e.Version != 2 {
		t.Fatalf("version must not change on conflict, got %d", e.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCHExecutionStoreSaveAppendsNextVersion(t *testing.T) {
	s, mock := newMockStore(t)
	e := sampleExecution()
	e.Version = 3

	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM agentflow.executions FINAL")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agentflow.executions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if e.Version != 4 {
		t.Fatalf("expected version 4, got %d", e.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCHExecutionStoreGet(t *testing.T) {
	s, mock := newMockStore(t)
	payload, _ := json.Marshal(sampleExecution())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload, version FROM agentflow.executions FINAL WHERE id = ?")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(string(payload), 7))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload, version FROM agentflow.executions FINAL WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}))

	got, err := s.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 7 || got.Symbol != "AAPL" || !got.CostTotal.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCHExecutionStoreListFilters(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FINAL WHERE pipeline_id = ? AND status = ? ORDER BY created_at DESC LIMIT ?")).
		WithArgs("p1", "failed", 10).
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN (?, ?) ORDER BY created_at ASC")).
		WithArgs("pending", "running").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}))

	if _, err := s.List(context.Background(), models.ExecutionFilter{PipelineID: "p1", Status: models.StatusFailed, Limit: 10}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := s.ListByStatus(context.Background(), models.StatusPending, models.StatusRunning); err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCHCostSinkAgentTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sink := NewCHCostSink(pkgch.NewClientFromDB(db))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agentflow.cost_entries")).
		WithArgs("e1", "p1", "n1", "bias", "0.02", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM agentflow.cost_entries").
		WillReturnRows(sqlmock.NewRows([]string{"agent_type", "total", "count"}).
			AddRow("bias", "0.02", 1).
			AddRow("strategy", "0.15", 3))

	err = sink.Record(context.Background(), models.CostEntry{
		ExecutionID: "e1", PipelineID: "p1", NodeID: "n1", AgentType: "bias", Amount: "0.02", RecordedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	rows, err := sink.AgentTotals(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if len(rows) != 2 || rows[1].AgentType != "strategy" || rows[1].Count != 3 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
