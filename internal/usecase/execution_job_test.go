package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"
)

func TestExecutionJob_Handle(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	f := newEngineFixture(t, EngineConfig{}, md)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data")})
	job := NewExecutionJob(f.engine, logger.NewNop())

	payload, err := json.Marshal(signalRequest("e1", p.ID))
	mustNotErr(t, err)
	mustNotErr(t, job.Handle(context.Background(), payload))
	if f.get(t, "e1").Status != models.StatusCompleted {
		t.Fatalf("expected execution completed")
	}

	// Unknown pipelines and undecodable payloads are dropped, not retried.
	missing, _ := json.Marshal(signalRequest("e2", "nope"))
	mustNotErr(t, job.Handle(context.Background(), missing))
	mustNotErr(t, job.Handle(context.Background(), []byte("{")))
}
