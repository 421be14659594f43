package agents

import (
	"context"
	"math"
	"strings"

	domsvc "AgentFlow/internal/domain/service"

	"github.com/shopspring/decimal"
)

// RiskManager sizes the upstream trade plan with fixed-risk rules. It never
// fails a plan by error; a rejected plan is reported with approved=false.
// Config: risk_per_trade (default 100), max_quantity (0 = no cap),
// min_reward_risk (default 1).
type RiskManager struct{}

func NewRiskManager() *RiskManager { return &RiskManager{} }

func (a *RiskManager) Type() string { return TypeRiskManager }

func (a *RiskManager) Run(_ context.Context, in domsvc.AgentInput) (domsvc.AgentResult, error) {
	return domsvc.AgentResult{Output: a.evaluate(in), Cost: decimal.Zero}, nil
}

func (a *RiskManager) evaluate(in domsvc.AgentInput) map[string]any {
	reject := func(reason string) map[string]any {
		return map[string]any{"approved": false, "reason": reason}
	}
	plan, ok := findInput(in.Inputs, "side")
	if !ok {
		return reject("no trade plan")
	}
	side := strings.ToLower(stringOr(plan, "side", ""))
	if side != "buy" && side != "sell" {
		return reject("no trade: side " + side)
	}
	entry := numberOr(plan, "entry", 0)
	stop := numberOr(plan, "stop_loss", 0)
	target := numberOr(plan, "take_profit", 0)
	if entry <= 0 || stop <= 0 || target <= 0 {
		return reject("incomplete price levels")
	}
	if side == "buy" && !(stop < entry && entry < target) || side == "sell" && !(target < entry && entry < stop) {
		return reject("inconsistent price levels")
	}

	perShare := math.Abs(entry - stop)
	rr := math.Abs(target-entry) / perShare
	if rr < numberOr(in.Config, "min_reward_risk", 1) {
		return reject("reward/risk below minimum")
	}
	qty := math.Floor(numberOr(in.Config, "risk_per_trade", 100) / perShare)
	if maxQty := numberOr(in.Config, "max_quantity", 0); maxQty > 0 && qty > maxQty {
		qty = maxQty
	}
	if qty < 1 {
		return reject("position size below one unit")
	}
	return map[string]any{
		"approved":    true,
		"side":        side,
		"quantity":    qty,
		"entry":       entry,
		"stop_loss":   stop,
		"take_profit": target,
		"reward_risk": rr,
	}
}

var _ domsvc.Agent = (*RiskManager)(nil)
