package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	pkgch "AgentFlow/pkg/clickhouse"
)

// ExecutionSchema holds the DDL of the execution and cost tables.
// Every save appends a row; ReplacingMergeTree keeps the highest version per id
// and reads use FINAL.
var ExecutionSchema = []string{
	`CREATE DATABASE IF NOT EXISTS agentflow`,
	`CREATE TABLE IF NOT EXISTS agentflow.executions (
		id String,
		pipeline_id String,
		status LowCardinality(String),
		mode LowCardinality(String),
		symbol String,
		version UInt64,
		payload String,
		created_at DateTime64(3),
		updated_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(version) ORDER BY id`,
	`CREATE TABLE IF NOT EXISTS agentflow.cost_entries (
		execution_id String,
		pipeline_id String,
		node_id String,
		agent_type LowCardinality(String),
		amount String,
		recorded_at DateTime64(3)
	) ENGINE = MergeTree ORDER BY (agent_type, recorded_at)`,
}

const insertExecution = `INSERT INTO agentflow.executions
	(id, pipeline_id, status, mode, symbol, version, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CHExecutionStore implements ExecutionStore on ClickHouse.
type CHExecutionStore struct {
	ch *pkgch.Client
	db *sql.DB
}

func NewCHExecutionStore(ch *pkgch.Client) *CHExecutionStore {
	return &CHExecutionStore{ch: ch, db: ch.DB()}
}

func (s *CHExecutionStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, ExecutionSchema)
}

func (s *CHExecutionStore) Create(ctx context.Context, e *models.Execution) error {
	e.Version = 1
	if err := s.insert(ctx, e); err != nil {
		e.Version = 0
		return fmt.Errorf("create execution %s: %w", e.ID, err)
	}
	return nil
}

// Save checks the stored version and appends the next one. Concurrent writers
// are excluded by the execution lease, not by the database.
func (s *CHExecutionStore) Save(ctx context.Context, e *models.Execution) error {
	var cur uint64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM agentflow.executions FINAL WHERE id = ?`, e.ID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("execution %s: %w", e.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read version of %s: %w", e.ID, err)
	}
	if cur != e.Version {
		return fmt.Errorf("execution %s at version %d, have %d: %w", e.ID, cur, e.Version, models.ErrVersionConflict)
	}
	e.Version++
	if err := s.insert(ctx, e); err != nil {
		e.Version--
		return fmt.Errorf("save execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *CHExecutionStore) insert(ctx context.Context, e *models.Execution) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertExecution,
		e.ID, e.PipelineID, string(e.Status), string(e.Mode), e.Symbol,
		e.Version, string(payload), e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *CHExecutionStore) Get(ctx context.Context, id string) (*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload, version FROM agentflow.executions FINAL WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	out, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrNotFound)
	}
	return out[0], nil
}

func (s *CHExecutionStore) List(ctx context.Context, f models.ExecutionFilter) ([]*models.Execution, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.PipelineID != "" {
		where = append(where, "pipeline_id = ?")
		args = append(args, f.PipelineID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT payload, version FROM agentflow.executions FINAL`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return scanExecutions(rows)
}

func (s *CHExecutionStore) ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	q := fmt.Sprintf(`SELECT payload, version FROM agentflow.executions FINAL WHERE status IN (%s) ORDER BY created_at ASC`, strings.Join(marks, ", "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions by status: %w", err)
	}
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]*models.Execution, error) {
	defer rows.Close()
	var out []*models.Execution
	for rows.Next() {
		var (
			payload string
			version uint64
		)
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var e models.Execution
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		e.Version = version
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// CHCostSink appends cost entries and aggregates them per agent type.
type CHCostSink struct {
	db *sql.DB
}

func NewCHCostSink(ch *pkgch.Client) *CHCostSink {
	return &CHCostSink{db: ch.DB()}
}

func (s *CHCostSink) Record(ctx context.Context, c models.CostEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agentflow.cost_entries (execution_id, pipeline_id, node_id, agent_type, amount, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ExecutionID, c.PipelineID, c.NodeID, c.AgentType, c.Amount, c.RecordedAt)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

func (s *CHCostSink) AgentTotals(ctx context.Context) ([]models.AgentCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_type, toString(sum(toDecimal128OrZero(amount, 8))), count()
		FROM agentflow.cost_entries
		GROUP BY agent_type
		ORDER BY agent_type`)
	if err != nil {
		return nil, fmt.Errorf("agent totals: %w", err)
	}
	defer rows.Close()
	var out []models.AgentCost
	for rows.Next() {
		var (
			c     models.AgentCost
			count uint64
		)
		if err := rows.Scan(&c.AgentType, &c.Total, &count); err != nil {
			return nil, fmt.Errorf("scan agent total: %w", err)
		}
		c.Count = int64(count)
		out = append(out, c)
	}
	return out, rows.Err()
}

var (
	_ domrepo.ExecutionStore = (*CHExecutionStore)(nil)
	_ domrepo.CostSink       = (*CHCostSink)(nil)
	_ domrepo.CostReader     = (*CHCostSink)(nil)
)
