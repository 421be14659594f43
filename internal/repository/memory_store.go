package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
)

// MemoryExecutionStore keeps executions in process memory. Stored values are
// cloned on the way in and out.
type MemoryExecutionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Execution
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{rows: make(map[string]*models.Execution)}
}

func (s *MemoryExecutionStore) Init(context.Context) error { return nil }

func (s *MemoryExecutionStore) Create(_ context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; ok {
		return fmt.Errorf("execution %s already exists", e.ID)
	}
	e.Version = 1
	s.rows[e.ID] = e.Clone()
	return nil
}

func (s *MemoryExecutionStore) Save(_ context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[e.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", e.ID, models.ErrNotFound)
	}
	if cur.Version != e.Version {
		return fmt.Errorf("execution %s at version %d, have %d: %w", e.ID, cur.Version, e.Version, models.ErrVersionConflict)
	}
	e.Version++
	s.rows[e.ID] = e.Clone()
	return nil
}

func (s *MemoryExecutionStore) Get(_ context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryExecutionStore) List(_ context.Context, f models.ExecutionFilter) ([]*models.Execution, error) {
	s.mu.RLock()
	out := make([]*models.Execution, 0)
	for _, e := range s.rows {
		if f.PipelineID != "" && e.PipelineID != f.PipelineID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryExecutionStore) ListByStatus(_ context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	want := make(map[models.ExecutionStatus]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	s.mu.RLock()
	out := make([]*models.Execution, 0)
	for _, e := range s.rows {
		if _, ok := want[e.Status]; ok {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryCatalog keeps pipelines and scanners in process memory.
type MemoryCatalog struct {
	mu        sync.RWMutex
	pipelines map[string]*models.Pipeline
	scanners  map[string]*models.Scanner
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		pipelines: make(map[string]*models.Pipeline),
		scanners:  make(map[string]*models.Scanner),
	}
}

func (c *MemoryCatalog) SavePipeline(_ context.Context, p *models.Pipeline) error {
	cp := *p
	c.mu.Lock()
	c.pipelines[p.ID] = &cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) GetPipeline(_ context.Context, id string) (*models.Pipeline, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (c *MemoryCatalog) ListPipelines(context.Context) ([]*models.Pipeline, error) {
	c.mu.RLock()
	out := make([]*models.Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		cp := *p
		out = append(out, &cp)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) SaveScanner(_ context.Context, s *models.Scanner) error {
	cp := *s
	cp.Tickers = append([]string(nil), s.Tickers...)
	c.mu.Lock()
	c.scanners[s.ID] = &cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) GetScanner(_ context.Context, id string) (*models.Scanner, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scanners[id]
	if !ok {
		return nil, fmt.Errorf("scanner %s: %w", id, models.ErrNotFound)
	}
	cp := *s
	cp.Tickers = append([]string(nil), s.Tickers...)
	return &cp, nil
}

func (c *MemoryCatalog) ListScanners(context.Context) ([]*models.Scanner, error) {
	c.mu.RLock()
	out := make([]*models.Scanner, 0, len(c.scanners))
	for _, s := range c.scanners {
		cp := *s
		cp.Tickers = append([]string(nil), s.Tickers...)
		out = append(out, &cp)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ domrepo.ExecutionStore = (*MemoryExecutionStore)(nil)
	_ domrepo.CatalogStore   = (*MemoryCatalog)(nil)
)
