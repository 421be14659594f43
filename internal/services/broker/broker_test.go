package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"

	"github.com/shopspring/decimal"
)

type fakePrices struct{ candle models.Candle }

func (f *fakePrices) GetCandles(context.Context, string, time.Time, time.Time, domrepo.Timeframe) ([]models.Candle, error) {
	return []models.Candle{f.candle}, nil
}

func (f *fakePrices) GetLatestNCandles(context.Context, string, int, domrepo.Timeframe) ([]models.Candle, error) {
	return []models.Candle{f.candle}, nil
}

func bracket() domsvc.BracketOrder {
	return domsvc.BracketOrder{
		ClientOrderID: "e1-trade",
		Symbol:        "AAPL",
		Side:          "buy",
		Quantity:      decimal.NewFromInt(10),
		EntryPrice:    decimal.NewFromInt(100),
		TakeProfit:    decimal.NewFromInt(110),
		StopLoss:      decimal.NewFromInt(95),
	}
}

func TestPaperBrokerIdempotentAndStopExit(t *testing.T) {
	prices := &fakePrices{candle: models.Candle{High: 101, Low: 99}}
	b := NewPaperBroker(prices)
	ctx := context.Background()

	r1, err := b.PlaceBracketOrder(ctx, bracket())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	r2, _ := b.PlaceBracketOrder(ctx, bracket())
	if r1.OrderID != r2.OrderID {
		t.Fatalf("same client order id must map to one order")
	}

	st, _ := b.GetPositionStatus(ctx, r1.OrderID)
	if st.State != domsvc.PositionOpen {
		t.Fatalf("expected open, got %s", st.State)
	}

	prices.candle = models.Candle{High: 100, Low: 94}
	st, err = b.GetPositionStatus(ctx, r1.OrderID)
	if err != nil || st.State != domsvc.PositionClosed || st.PnL == nil {
		t.Fatalf("expected closed with pnl, got %+v (%v)", st, err)
	}
	if !st.PnL.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("expected pnl -50, got %s", st.PnL)
	}
}

func TestPaperBrokerWithoutPricesStaysOpen(t *testing.T) {
	b := NewPaperBroker(nil)
	r, _ := b.PlaceBracketOrder(context.Background(), bracket())
	st, _ := b.GetPositionStatus(context.Background(), r.OrderID)
	if st.State != domsvc.PositionOpen {
		t.Fatalf("expected open position")
	}
	st, _ = b.Close(r.OrderID, decimal.NewFromInt(110))
	if st.PnL == nil || !st.PnL.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected pnl 100, got %v", st.PnL)
	}
}

func TestHTTPBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/orders/bracket":
			_ = json.NewEncoder(w).Encode(domsvc.OrderResult{OrderID: "o-1", Status: "accepted"})
		case "/positions/o-1":
			_, _ = w.Write([]byte(`{"state":"closed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewHTTPBroker("tradier", srv.URL, "key", time.Second)
	res, err := b.PlaceBracketOrder(context.Background(), bracket())
	if err != nil || res.OrderID != "o-1" {
		t.Fatalf("place: %+v %v", res, err)
	}
	st, err := b.GetPositionStatus(context.Background(), "o-1")
	if err != nil || st.State != domsvc.PositionClosed || st.PnL != nil {
		t.Fatalf("expected closed without pnl, got %+v %v", st, err)
	}
	if _, err := b.GetPositionStatus(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestResolver(t *testing.T) {
	paper := NewPaperBroker(nil)
	r := NewResolver(nil, paper)
	if b, err := r.ForMode(models.ModeSimulation); err != nil || b != paper {
		t.Fatalf("simulation must use paper broker")
	}
	if _, err := r.ForMode(models.ModeLive); err == nil {
		t.Fatalf("live without broker must fail")
	}
	if b, err := r.ByName("paper"); err != nil || b.Name() != "paper" {
		t.Fatalf("ByName paper: %v", err)
	}
}
