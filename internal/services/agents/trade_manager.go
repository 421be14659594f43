package agents

import (
	"context"
	"fmt"

	domsvc "AgentFlow/internal/domain/service"

	"github.com/shopspring/decimal"
)

// TradeManager places the bracket order of an approved, sized plan.
// Executions reaching it may be gated by human approval.
type TradeManager struct {
	brokers domsvc.BrokerResolver
}

func NewTradeManager(brokers domsvc.BrokerResolver) *TradeManager {
	return &TradeManager{brokers: brokers}
}

func (a *TradeManager) Type() string { return TypeTradeManager }

func (a *TradeManager) PlacesTrades() bool { return true }

func (a *TradeManager) Run(ctx context.Context, in domsvc.AgentInput) (domsvc.AgentResult, error) {
	plan, ok := findInput(in.Inputs, "approved")
	if !ok {
		return domsvc.AgentResult{}, fmt.Errorf("trade_manager needs a risk_manager predecessor")
	}
	if approved, _ := plan["approved"].(bool); !approved {
		return domsvc.AgentResult{
			Output: map[string]any{"placed": false, "reason": stringOr(plan, "reason", "plan not approved")},
			Cost:   decimal.Zero,
		}, nil
	}

	broker, err := a.brokers.ForMode(in.Mode)
	if err != nil {
		return domsvc.AgentResult{}, err
	}
	order := domsvc.BracketOrder{
		ClientOrderID: in.ExecutionID + "-" + in.NodeID,
		Symbol:        in.Symbol,
		Side:          stringOr(plan, "side", "buy"),
		Quantity:      decimal.NewFromFloat(numberOr(plan, "quantity", 0)),
		EntryPrice:    decimal.NewFromFloat(numberOr(plan, "entry", 0)),
		TakeProfit:    decimal.NewFromFloat(numberOr(plan, "take_profit", 0)),
		StopLoss:      decimal.NewFromFloat(numberOr(plan, "stop_loss", 0)),
	}
	res, err := broker.PlaceBracketOrder(ctx, order)
	if err != nil {
		return domsvc.AgentResult{}, fmt.Errorf("place bracket order: %w", err)
	}
	return domsvc.AgentResult{
		Output: map[string]any{
			"placed":             true,
			domsvc.OutputOrderID: res.OrderID,
			domsvc.OutputBroker:  broker.Name(),
			domsvc.OutputOpen:    true,
			"status":             res.Status,
			"filled":             res.Filled,
			"client_order_id":    order.ClientOrderID,
			"quantity":           order.Quantity.String(),
		},
		Cost: decimal.Zero,
	}, nil
}

var (
	_ domsvc.Agent       = (*TradeManager)(nil)
	_ domsvc.TradePlacer = (*TradeManager)(nil)
)
