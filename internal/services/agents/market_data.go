package agents

import (
	"context"
	"fmt"

	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/internal/services/features"

	"github.com/shopspring/decimal"
)

// MarketDataAgent loads recent candles and summarizes them into features.
// Config: timeframe (default 5m), bars (default 50), window (default 20).
type MarketDataAgent struct {
	store domrepo.FeatureStore
}

func NewMarketDataAgent(store domrepo.FeatureStore) *MarketDataAgent {
	return &MarketDataAgent{store: store}
}

func (a *MarketDataAgent) Type() string { return TypeMarketData }

func (a *MarketDataAgent) Run(ctx context.Context, in domsvc.AgentInput) (domsvc.AgentResult, error) {
	if a.store == nil {
		return domsvc.AgentResult{}, fmt.Errorf("market data unavailable: no feature store configured")
	}
	tf := domrepo.NormalizeTimeframe(stringOr(in.Config, "timeframe", ""))
	bars := int(numberOr(in.Config, "bars", 50))
	window := int(numberOr(in.Config, "window", 20))
	if bars < 2 {
		bars = 2
	}

	candles, err := a.store.GetLatestNCandles(ctx, in.Symbol, bars, tf)
	if err != nil {
		return domsvc.AgentResult{}, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		return domsvc.AgentResult{}, fmt.Errorf("no candles for %s %s", in.Symbol, tf)
	}
	out := features.Summarize(candles, string(tf), window).ToMap()
	out["symbol"] = in.Symbol
	out["timeframe"] = string(tf)
	return domsvc.AgentResult{Output: out, Cost: decimal.Zero}, nil
}

var _ domsvc.Agent = (*MarketDataAgent)(nil)
