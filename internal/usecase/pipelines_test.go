package usecase

import (
	"context"
	"errors"
	"testing"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/repository"
	"AgentFlow/internal/services/agents"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"
)

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func newPipelinesFixture(t *testing.T) (*PipelinesUseCase, *repository.MemoryCatalog, *mockQueue, *countingInvalidator) {
	t.Helper()
	catalog := repository.NewMemoryCatalog()
	mustNotErr(t, catalog.SaveScanner(context.Background(), &models.Scanner{ID: "sc1", Tickers: []string{"AAPL"}}))
	reg := agents.NewRegistry(&fakeAgent{typ: "market_data"}, &fakeAgent{typ: "bias"})
	q := &mockQueue{limit: 1}
	inv := &countingInvalidator{}
	counters := cache.NewMemoryCache()
	t.Cleanup(func() { _ = counters.Close() })
	uc := NewPipelinesUseCase(catalog, reg, q, counters, inv, newMockMetrics(), logger.NewNop())
	return uc, catalog, q, inv
}

func validCreate() *models.CreatePipelineRequest {
	return &models.CreatePipelineRequest{
		Owner:       "u1",
		Name:        "breakout",
		Graph:       chain("market_data", "bias"),
		IsActive:    true,
		TriggerMode: models.TriggerSignal,
		ScannerID:   "sc1",
		Mode:        models.ModePaper,
		SignalSubscriptions: []models.SignalSubscription{
			{SignalType: "breakout"},
		},
		BudgetCap: "0.50",
	}
}

func TestPipelines_Create(t *testing.T) {
	uc, catalog, _, inv := newPipelinesFixture(t)
	p, err := uc.Create(context.Background(), validCreate())
	mustNotErr(t, err)
	if p.ID == "" || p.BudgetCap == nil || !p.BudgetCap.Equal(*dec("0.5")) {
		t.Fatalf("unexpected pipeline %+v", p)
	}
	if _, err := catalog.GetPipeline(context.Background(), p.ID); err != nil {
		t.Fatalf("pipeline not stored: %v", err)
	}
	if inv.n != 1 {
		t.Fatalf("expected registry invalidation")
	}
}

func TestPipelines_CreateRejectsInvalid(t *testing.T) {
	cases := map[string]func(r *models.CreatePipelineRequest){
		"cycle": func(r *models.CreatePipelineRequest) {
			r.Graph.Edges = append(r.Graph.Edges, models.Edge{From: "bias", To: "market_data"})
		},
		"unknown agent": func(r *models.CreatePipelineRequest) {
			r.Graph.Nodes[1].AgentType = "oracle"
		},
		"missing scanner": func(r *models.CreatePipelineRequest) {
			r.ScannerID = "nope"
		},
		"no subscriptions": func(r *models.CreatePipelineRequest) {
			r.SignalSubscriptions = nil
		},
		"periodic without interval": func(r *models.CreatePipelineRequest) {
			r.TriggerMode = models.TriggerPeriodic
		},
		"manual trigger mode": func(r *models.CreatePipelineRequest) {
			r.TriggerMode = models.TriggerManual
		},
		"negative budget": func(r *models.CreatePipelineRequest) {
			r.BudgetCap = "-1"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			uc, catalog, _, _ := newPipelinesFixture(t)
			req := validCreate()
			mutate(req)
			_, err := uc.Create(context.Background(), req)
			var verr *models.ValidationErrors
			if !errors.As(err, &verr) || len(verr.Errors) == 0 {
				t.Fatalf("expected validation errors, got %v", err)
			}
			list, _ := catalog.ListPipelines(context.Background())
			if len(list) != 0 {
				t.Fatalf("invalid pipeline stored")
			}
		})
	}
}

func TestPipelines_SetActiveAndRun(t *testing.T) {
	uc, _, q, inv := newPipelinesFixture(t)
	ctx := context.Background()
	p, err := uc.Create(ctx, validCreate())
	mustNotErr(t, err)

	p, err = uc.SetActive(ctx, p.ID, false)
	mustNotErr(t, err)
	if p.IsActive || inv.n != 2 {
		t.Fatalf("expected deactivated pipeline and a refresh")
	}
	_, err = uc.SetActive(ctx, p.ID, false)
	mustNotErr(t, err)
	if inv.n != 2 {
		t.Fatalf("no-op toggle must not refresh")
	}

	req, err := uc.Run(ctx, p.ID, &models.RunPipelineRequest{Symbol: "aapl"})
	mustNotErr(t, err)
	if req.TriggerMode != models.TriggerManual || req.Symbol != "AAPL" || req.Mode != models.ModePaper {
		t.Fatalf("unexpected request %+v", req)
	}
	if q.Depth() != 1 {
		t.Fatalf("expected request enqueued")
	}
	_, err = uc.Run(ctx, p.ID, &models.RunPipelineRequest{Symbol: "AAPL"})
	mustErrIs(t, err, models.ErrQueueFull)

	_, err = uc.Run(ctx, "missing", &models.RunPipelineRequest{Symbol: "AAPL"})
	mustErrIs(t, err, models.ErrNotFound)
}
