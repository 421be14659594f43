package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paperPosition struct {
	order domsvc.BracketOrder
	state domsvc.PositionState
	pnl   *decimal.Decimal
}

// PaperBroker simulates bracket orders in memory. With a price source the exits
// are triggered by the latest one-minute candle; without one positions stay
// open until Close is called.
type PaperBroker struct {
	mu        sync.Mutex
	positions map[string]*paperPosition
	byClient  map[string]string
	prices    domrepo.FeatureStore
}

func NewPaperBroker(prices domrepo.FeatureStore) *PaperBroker {
	return &PaperBroker{
		positions: make(map[string]*paperPosition),
		byClient:  make(map[string]string),
		prices:    prices,
	}
}

func (b *PaperBroker) Name() string { return "paper" }

// PlaceBracketOrder is idempotent on ClientOrderID.
func (b *PaperBroker) PlaceBracketOrder(_ context.Context, o domsvc.BracketOrder) (domsvc.OrderResult, error) {
	if !o.Quantity.IsPositive() {
		return domsvc.OrderResult{}, fmt.Errorf("paper broker: quantity must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.byClient[o.ClientOrderID]; ok && o.ClientOrderID != "" {
		return domsvc.OrderResult{OrderID: id, Status: "accepted", Filled: true}, nil
	}
	id := "paper-" + uuid.NewString()
	b.positions[id] = &paperPosition{order: o, state: domsvc.PositionOpen}
	if o.ClientOrderID != "" {
		b.byClient[o.ClientOrderID] = id
	}
	return domsvc.OrderResult{OrderID: id, Status: "accepted", Filled: true}, nil
}

func (b *PaperBroker) GetPositionStatus(ctx context.Context, orderID string) (domsvc.PositionStatus, error) {
	b.mu.Lock()
	p, ok := b.positions[orderID]
	if !ok {
		b.mu.Unlock()
		return domsvc.PositionStatus{}, fmt.Errorf("paper order %s: %w", orderID, models.ErrNotFound)
	}
	if p.state == domsvc.PositionClosed {
		st := domsvc.PositionStatus{State: p.state, PnL: p.pnl}
		b.mu.Unlock()
		return st, nil
	}
	order := p.order
	b.mu.Unlock()

	if b.prices == nil {
		return domsvc.PositionStatus{State: domsvc.PositionOpen}, nil
	}
	candles, err := b.prices.GetLatestNCandles(ctx, order.Symbol, 1, domrepo.TF1m)
	if err != nil {
		return domsvc.PositionStatus{}, fmt.Errorf("paper price: %w", err)
	}
	if len(candles) == 0 {
		return domsvc.PositionStatus{State: domsvc.PositionOpen}, nil
	}
	c := candles[0]
	high, low := decimal.NewFromFloat(c.High), decimal.NewFromFloat(c.Low)
	buy := !strings.EqualFold(order.Side, "sell")
	switch {
	case buy && low.LessThanOrEqual(order.StopLoss), !buy && high.GreaterThanOrEqual(order.StopLoss):
		return b.Close(orderID, order.StopLoss)
	case buy && high.GreaterThanOrEqual(order.TakeProfit), !buy && low.LessThanOrEqual(order.TakeProfit):
		return b.Close(orderID, order.TakeProfit)
	}
	return domsvc.PositionStatus{State: domsvc.PositionOpen}, nil
}

// Close exits an open paper position at price and records its P&L.
func (b *PaperBroker) Close(orderID string, price decimal.Decimal) (domsvc.PositionStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[orderID]
	if !ok {
		return domsvc.PositionStatus{}, fmt.Errorf("paper order %s: %w", orderID, models.ErrNotFound)
	}
	if p.state == domsvc.PositionOpen {
		diff := price.Sub(p.order.EntryPrice)
		if strings.EqualFold(p.order.Side, "sell") {
			diff = diff.Neg()
		}
		pnl := diff.Mul(p.order.Quantity)
		p.pnl = &pnl
		p.state = domsvc.PositionClosed
	}
	return domsvc.PositionStatus{State: p.state, PnL: p.pnl}, nil
}

var _ domsvc.Broker = (*PaperBroker)(nil)
