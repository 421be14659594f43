package usecase

import (
	"context"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

// ScannerView is a scanner with its read-time staleness.
type ScannerView struct {
	*models.Scanner
	IsStale bool `json:"is_stale"`
}

// ScannersUseCase manages scanners. Ticker edits are the only writes the
// dispatcher observes, through the next registry snapshot.
type ScannersUseCase struct {
	catalog    domrepo.CatalogStore
	registry   Invalidator
	logger     *logger.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewScannersUseCase(catalog domrepo.CatalogStore, registry Invalidator, lgr *logger.Logger, staleAfter time.Duration) *ScannersUseCase {
	return &ScannersUseCase{catalog: catalog, registry: registry, logger: lgr, staleAfter: staleAfter, now: time.Now}
}

func (uc *ScannersUseCase) Create(ctx context.Context, req *models.CreateScannerRequest) (*ScannerView, error) {
	now := uc.now()
	s := &models.Scanner{
		ID:              uuid.NewString(),
		Owner:           req.Owner,
		Name:            req.Name,
		Type:            req.Type,
		Tickers:         models.NormalizeTickers(req.Tickers),
		RefreshInterval: time.Duration(req.RefreshIntervalMinutes) * time.Minute,
		LastRefreshedAt: now,
	}
	if err := uc.catalog.SaveScanner(ctx, s); err != nil {
		return nil, fmt.Errorf("save scanner: %w", err)
	}
	uc.registry.Invalidate()
	uc.logger.Info("scanner created",
		logger.String("scanner_id", s.ID),
		logger.String("owner", s.Owner),
		logger.Int("tickers", len(s.Tickers)))
	return uc.view(s), nil
}

// SetTickers replaces the ticker set and marks the scanner refreshed.
func (uc *ScannersUseCase) SetTickers(ctx context.Context, id string, tickers []string) (*ScannerView, error) {
	s, err := uc.catalog.GetScanner(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Tickers = models.NormalizeTickers(tickers)
	s.LastRefreshedAt = uc.now()
	if err := uc.catalog.SaveScanner(ctx, s); err != nil {
		return nil, fmt.Errorf("save scanner: %w", err)
	}
	uc.registry.Invalidate()
	uc.logger.Info("scanner tickers replaced", logger.String("scanner_id", id), logger.Int("tickers", len(s.Tickers)))
	return uc.view(s), nil
}

func (uc *ScannersUseCase) Get(ctx context.Context, id string) (*ScannerView, error) {
	s, err := uc.catalog.GetScanner(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.view(s), nil
}

func (uc *ScannersUseCase) List(ctx context.Context) ([]*ScannerView, error) {
	list, err := uc.catalog.ListScanners(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ScannerView, 0, len(list))
	for _, s := range list {
		out = append(out, uc.view(s))
	}
	return out, nil
}

// view computes staleness against the scanner's own refresh interval when set,
// otherwise against the configured default.
func (uc *ScannersUseCase) view(s *models.Scanner) *ScannerView {
	after := s.RefreshInterval
	if after <= 0 {
		after = uc.staleAfter
	}
	return &ScannerView{Scanner: s, IsStale: s.IsStale(uc.now(), after)}
}
