package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"
)

// Snapshot is an immutable view of the catalog. Readers never lock; a refresh
// builds a new Snapshot and swaps the pointer.
type Snapshot struct {
	Version   uint64
	TakenAt   time.Time
	pipelines map[string]*models.Pipeline
	scanners  map[string]*models.Scanner
	bySymbol  map[string][]*models.Pipeline
	periodic  []*models.Pipeline
}

// Pipeline returns a pipeline by id.
func (s *Snapshot) Pipeline(id string) (*models.Pipeline, bool) {
	p, ok := s.pipelines[id]
	return p, ok
}

// Scanner returns a scanner by id.
func (s *Snapshot) Scanner(id string) (*models.Scanner, bool) {
	sc, ok := s.scanners[id]
	return sc, ok
}

// SignalPipelines returns the active signal-triggered pipelines whose scanner holds symbol.
func (s *Snapshot) SignalPipelines(symbol string) []*models.Pipeline {
	return s.bySymbol[models.NormalizeSymbol(symbol)]
}

// Periodic returns the active periodic pipelines.
func (s *Snapshot) Periodic() []*models.Pipeline { return s.periodic }

func build(version uint64, now time.Time, pipes []*models.Pipeline, scanners []*models.Scanner) *Snapshot {
	s := &Snapshot{
		Version:   version,
		TakenAt:   now,
		pipelines: make(map[string]*models.Pipeline, len(pipes)),
		scanners:  make(map[string]*models.Scanner, len(scanners)),
		bySymbol:  make(map[string][]*models.Pipeline),
	}
	for _, sc := range scanners {
		s.scanners[sc.ID] = sc
	}
	for _, p := range pipes {
		s.pipelines[p.ID] = p
		if !p.IsActive {
			continue
		}
		switch p.TriggerMode {
		case models.TriggerSignal:
			sc, ok := s.scanners[p.ScannerID]
			if !ok {
				continue
			}
			for _, t := range sc.Tickers {
				s.bySymbol[t] = append(s.bySymbol[t], p)
			}
		case models.TriggerPeriodic:
			s.periodic = append(s.periodic, p)
		}
	}
	return s
}

// Registry serves copy-on-write catalog snapshots to the dispatcher and scheduler.
type Registry struct {
	catalog  repository.CatalogStore
	logger   *logger.Logger
	interval time.Duration
	snap     atomic.Pointer[Snapshot]
	version  atomic.Uint64
	kick     chan struct{}
	now      func() time.Time
}

func New(catalog repository.CatalogStore, lgr *logger.Logger, refreshInterval time.Duration) *Registry {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	return &Registry{
		catalog:  catalog,
		logger:   lgr,
		interval: refreshInterval,
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Refresh loads the catalog and publishes a new snapshot. A failed refresh keeps
// the previous snapshot in place.
func (r *Registry) Refresh(ctx context.Context) error {
	pipes, err := r.catalog.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("list pipelines: %w", err)
	}
	scanners, err := r.catalog.ListScanners(ctx)
	if err != nil {
		return fmt.Errorf("list scanners: %w", err)
	}
	s := build(r.version.Add(1), r.now(), pipes, scanners)
	r.snap.Store(s)
	r.logger.Debug("registry refreshed",
		logger.Uint64("version", s.Version),
		logger.Int("pipelines", len(pipes)),
		logger.Int("scanners", len(scanners)))
	return nil
}

// Snapshot returns the current snapshot or ErrSnapshotUnavailable before the first refresh.
func (r *Registry) Snapshot() (*Snapshot, error) {
	s := r.snap.Load()
	if s == nil {
		return nil, models.ErrSnapshotUnavailable
	}
	return s, nil
}

// Match returns the active signal pipelines whose scanner contains the signal's
// symbol and that have a subscription matching the signal.
func (r *Registry) Match(sig *models.Signal) ([]*models.Pipeline, error) {
	s, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []*models.Pipeline
	for _, p := range s.SignalPipelines(sig.Symbol) {
		if p.MatchesSignal(sig) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Invalidate schedules an out-of-band refresh. It never blocks.
func (r *Registry) Invalidate() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Start refreshes once synchronously, then on every interval and edit event until ctx ends.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-r.kick:
			}
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("registry refresh failed", logger.Error(err))
			}
		}
	}()
	return nil
}
