package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/internal/middleware"
	"AgentFlow/internal/repository"
	"AgentFlow/internal/service/ledger"
	"AgentFlow/internal/service/registry"
	"AgentFlow/internal/services/agents"
	"AgentFlow/internal/usecase"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type stubAgent struct{ typ string }

func (a stubAgent) Type() string { return a.typ }

func (a stubAgent) Run(context.Context, domsvc.AgentInput) (domsvc.AgentResult, error) {
	return domsvc.AgentResult{Output: map[string]any{"ok": true}, Cost: decimal.RequireFromString("0.01")}, nil
}

type memQueue struct{ reqs []*models.ExecutionRequest }

func (q *memQueue) TryEnqueue(_ context.Context, r *models.ExecutionRequest) error {
	q.reqs = append(q.reqs, r)
	return nil
}

func (q *memQueue) Depth() int { return len(q.reqs) }

type testAPI struct {
	e       *echo.Echo
	store   *repository.MemoryExecutionStore
	catalog *repository.MemoryCatalog
	queue   *memQueue
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	lgr := logger.NewNop()
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	store := repository.NewMemoryExecutionStore()
	catalog := repository.NewMemoryCatalog()
	locks := cache.NewMemoryCache()
	t.Cleanup(func() { _ = locks.Close() })
	reg := registry.New(catalog, lgr, time.Minute)
	agentReg := agents.NewRegistry(stubAgent{typ: "market_data"}, stubAgent{typ: "bias"})
	costs := ledger.New(rec, lgr)
	q := &memQueue{}

	engine := usecase.NewEngine(store, catalog, agentReg, costs, locks, nil, rec, lgr, usecase.EngineConfig{})
	dispatcher := usecase.NewDispatcher(reg, q, locks, rec, lgr, usecase.DispatcherConfig{})
	gate := middleware.NewSignalGate(usecase.NewSignalProcessor(nil, dispatcher, rec, usecase.BackendDirect), lgr)

	e := echo.New()
	for _, h := range []interface{ RegisterRoutes(*echo.Echo) }{
		NewExecutionsHandler(lgr, usecase.NewExecutionsUseCase(store, engine)),
		NewPipelinesHandler(lgr, usecase.NewPipelinesUseCase(catalog, agentReg, q, locks, reg, rec, lgr)),
		NewScannersHandler(lgr, usecase.NewScannersUseCase(catalog, reg, lgr, time.Hour)),
		NewSignalsHandler(lgr, gate, dispatcher),
		NewCostsHandler(lgr, costs),
	} {
		h.RegisterRoutes(e)
	}
	return &testAPI{e: e, store: store, catalog: catalog, queue: q}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %s", rec.Body.String())
		}
	}
	return rec, out
}

func dataField(t *testing.T, body map[string]any, key string) any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return data[key]
}

func TestAPI_PipelineLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec, body := a.do(t, http.MethodPost, "/api/scanners", `{"owner":"u1","name":"tech","tickers":["aapl","msft"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create scanner: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	scannerID, _ := dataField(t, body, "id").(string)
	if dataField(t, body, "is_stale") != false {
		t.Fatalf("expected is_stale=false")
	}

	cyclic := `{"owner":"u1","name":"loop","trigger_mode":"signal","scanner_id":"` + scannerID + `",
		"signal_subscriptions":[{"signal_type":"breakout"}],
		"graph":{"nodes":[{"id":"a","agent_type":"market_data"},{"id":"b","agent_type":"bias"}],
		"edges":[{"from":"a","to":"b"},{"from":"b","to":"a"}]}}`
	rec, _ = a.do(t, http.MethodPost, "/api/pipelines", cyclic)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cyclic graph: expected 400, got %d %s", rec.Code, rec.Body.String())
	}

	manual := `{"owner":"u1","name":"adhoc","trigger_mode":"manual",
		"graph":{"nodes":[{"id":"a","agent_type":"market_data"}]}}`
	rec, _ = a.do(t, http.MethodPost, "/api/pipelines", manual)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("manual trigger mode: expected 400, got %d %s", rec.Code, rec.Body.String())
	}

	valid := `{"owner":"u1","name":"breakout","trigger_mode":"signal","scanner_id":"` + scannerID + `","is_active":true,
		"signal_subscriptions":[{"signal_type":"breakout","min_confidence":70}],
		"graph":{"nodes":[{"id":"a","agent_type":"market_data"},{"id":"b","agent_type":"bias"}],
		"edges":[{"from":"a","to":"b"}]}, "budget_cap":"1.00"}`
	rec, body = a.do(t, http.MethodPost, "/api/pipelines", valid)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create pipeline: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	pipelineID, _ := dataField(t, body, "id").(string)
	if dataField(t, body, "mode") != "paper" {
		t.Fatalf("expected default mode paper, got %v", dataField(t, body, "mode"))
	}

	rec, _ = a.do(t, http.MethodPost, "/api/pipelines/"+pipelineID+"/deactivate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", rec.Code)
	}
	rec, body = a.do(t, http.MethodPost, "/api/pipelines/"+pipelineID+"/run", `{"symbol":"aapl"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("run: expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	if dataField(t, body, "trigger_mode") != "manual" || len(a.queue.reqs) != 1 {
		t.Fatalf("manual request not enqueued: %v", body)
	}

	rec, _ = a.do(t, http.MethodPost, "/api/pipelines/missing/run", `{"symbol":"AAPL"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("run unknown pipeline: expected 404, got %d", rec.Code)
	}
}

func TestAPI_ExecutionCommands(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	p := &models.Pipeline{ID: "p1", IsActive: true, Mode: models.ModePaper, Graph: models.PipelineGraph{Nodes: []models.NodeSpec{{ID: "a", AgentType: "market_data"}}}}
	if err := a.catalog.SavePipeline(ctx, p); err != nil {
		t.Fatalf("SavePipeline() error = %v", err)
	}
	exec := models.NewExecution("e1", p, &models.ExecutionRequest{PipelineID: "p1", Symbol: "AAPL", TriggerMode: models.TriggerManual}, time.Now())
	if err := a.store.Create(ctx, exec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, body := a.do(t, http.MethodGet, "/api/executions/e1", "")
	if rec.Code != http.StatusOK || dataField(t, body, "status") != "pending" {
		t.Fatalf("get: unexpected %d %v", rec.Code, body)
	}
	rec, _ = a.do(t, http.MethodGet, "/api/executions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rec.Code)
	}
	rec, _ = a.do(t, http.MethodPost, "/api/executions/e1/approval", `{"decision":"approve","decided_by":"alice"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("approval on pending execution: expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = a.do(t, http.MethodPost, "/api/executions/e1/approval", `{"decision":"maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad decision: expected 400, got %d", rec.Code)
	}
	rec, body = a.do(t, http.MethodPost, "/api/executions/e1/cancel", "")
	if rec.Code != http.StatusOK || dataField(t, body, "status") != "cancelled" {
		t.Fatalf("cancel: unexpected %d %v", rec.Code, body)
	}
	rec, _ = a.do(t, http.MethodPost, "/api/executions/e1/pause", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("pause cancelled execution: expected 409, got %d", rec.Code)
	}

	rec, body = a.do(t, http.MethodGet, "/api/executions?pipeline_id=p1&status=cancelled", "")
	if rec.Code != http.StatusOK || dataField(t, body, "total") != float64(1) {
		t.Fatalf("list: unexpected %d %v", rec.Code, body)
	}
	rec, _ = a.do(t, http.MethodGet, "/api/executions?status=sleeping", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list with unknown status: expected 400, got %d", rec.Code)
	}
}

func TestAPI_SignalIngest(t *testing.T) {
	a := newTestAPI(t)

	rec, _ := a.do(t, http.MethodPost, "/api/signals", `{"symbol":"AAPL","signal_type":"breakout","confidence":140}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range confidence: expected 400, got %d", rec.Code)
	}
	rec, body := a.do(t, http.MethodPost, "/api/signals", `{"symbol":"aapl","signal_type":"Breakout","confidence":82,"timeframe":"1h"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest: expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	if dataField(t, body, "symbol") != "AAPL" || dataField(t, body, "source") != "api" || dataField(t, body, "id") == "" {
		t.Fatalf("signal not normalized: %v", body)
	}

	rec, _ = a.do(t, http.MethodGet, "/api/signals/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
}

func TestAPI_CostTotals(t *testing.T) {
	a := newTestAPI(t)
	rec, body := a.do(t, http.MethodGet, "/api/costs/agents", "")
	if rec.Code != http.StatusOK || dataField(t, body, "total") != float64(0) {
		t.Fatalf("costs: unexpected %d %v", rec.Code, body)
	}
}
