package service

import (
	"context"

	"AgentFlow/internal/domain/models"

	"github.com/shopspring/decimal"
)

// BracketOrder is an entry with attached take-profit and stop-loss exits.
type BracketOrder struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
}

// OrderResult is the broker acknowledgement of a placed order.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Filled  bool   `json:"filled"`
}

// PositionState is "open" or "closed".
type PositionState string

const (
	PositionOpen   PositionState = "open"
	PositionClosed PositionState = "closed"
)

// PositionStatus is the broker view of a placed order's position. PnL is nil when unknown.
type PositionStatus struct {
	State PositionState    `json:"state"`
	PnL   *decimal.Decimal `json:"pnl,omitempty"`
}

// Broker is the adapter contract to a brokerage.
type Broker interface {
	Name() string
	PlaceBracketOrder(ctx context.Context, order BracketOrder) (OrderResult, error)
	GetPositionStatus(ctx context.Context, orderID string) (PositionStatus, error)
}

// BrokerResolver picks the broker for an execution mode.
type BrokerResolver interface {
	ForMode(mode models.ExecutionMode) (Broker, error)
	ByName(name string) (Broker, error)
}
