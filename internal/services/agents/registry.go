package agents

import (
	"fmt"
	"sort"
	"sync"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
)

// Agent types known to the engine.
const (
	TypeMarketData   = "market_data"
	TypeBias         = "bias"
	TypeStrategy     = "strategy"
	TypeRiskManager  = "risk_manager"
	TypeTradeManager = "trade_manager"
)

// Registry maps agent_type strings to implementations.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domsvc.Agent
}

func NewRegistry(agents ...domsvc.Agent) *Registry {
	r := &Registry{agents: make(map[string]domsvc.Agent, len(agents))}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the implementation of a.Type().
func (r *Registry) Register(a domsvc.Agent) {
	r.mu.Lock()
	r.agents[a.Type()] = a
	r.mu.Unlock()
}

func (r *Registry) Lookup(agentType string) (domsvc.Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[agentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownAgent, agentType)
	}
	return a, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

var _ domsvc.AgentRegistry = (*Registry)(nil)
