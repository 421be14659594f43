package usecase

import (
	"context"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/services/features"
)

// MarketUseCase serves the candles and features the market_data agent sees.
type MarketUseCase struct {
	store domrepo.FeatureStore
}

func NewMarketUseCase(store domrepo.FeatureStore) *MarketUseCase {
	return &MarketUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

func (uc *MarketUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", models.ErrValidation)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("%w: from must be <= to", models.ErrValidation)
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	candles, err := uc.store.GetCandles(ctx, models.NormalizeSymbol(p.Symbol), p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	if len(candles) > p.Limit {
		candles = candles[:p.Limit]
	}

	return &GetCandlesResult{
		Symbol:    models.NormalizeSymbol(p.Symbol),
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(candles),
		Candles:   candles,
	}, nil
}

// FeaturesResult is the feature snapshot of the latest bars of a symbol.
type FeaturesResult struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Features  features.Snapshot `json:"features"`
}

func (uc *MarketUseCase) Features(ctx context.Context, symbol string, tf domrepo.Timeframe, bars, window int) (*FeaturesResult, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", models.ErrValidation)
	}
	if bars < 2 {
		bars = 50
	}
	if window <= 0 {
		window = 20
	}
	symbol = models.NormalizeSymbol(symbol)
	candles, err := uc.store.GetLatestNCandles(ctx, symbol, bars, tf)
	if err != nil {
		return nil, fmt.Errorf("latest candles: %w", err)
	}
	return &FeaturesResult{
		Symbol:    symbol,
		Timeframe: string(tf),
		Features:  features.Summarize(candles, string(tf), window),
	}, nil
}
