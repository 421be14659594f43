package broker

import (
	"fmt"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
)

// Resolver routes live executions to the live broker and every other mode to paper.
type Resolver struct {
	live  domsvc.Broker
	paper domsvc.Broker
}

// NewResolver accepts a nil live broker; live executions then fail to place orders.
func NewResolver(live, paper domsvc.Broker) *Resolver {
	return &Resolver{live: live, paper: paper}
}

func (r *Resolver) ForMode(mode models.ExecutionMode) (domsvc.Broker, error) {
	switch mode {
	case models.ModeLive:
		if r.live == nil {
			return nil, fmt.Errorf("no live broker configured")
		}
		return r.live, nil
	case models.ModePaper, models.ModeSimulation, models.ModeValidation:
		return r.paper, nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}
}

func (r *Resolver) ByName(name string) (domsvc.Broker, error) {
	for _, b := range []domsvc.Broker{r.live, r.paper} {
		if b != nil && b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown broker %q", name)
}

var _ domsvc.BrokerResolver = (*Resolver)(nil)
