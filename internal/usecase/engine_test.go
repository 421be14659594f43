package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
)

func signalRequest(id, pipelineID string) *models.ExecutionRequest {
	return &models.ExecutionRequest{
		ID:          id,
		PipelineID:  pipelineID,
		Symbol:      "AAPL",
		TriggerMode: models.TriggerSignal,
		Signal:      &models.Signal{ID: "sig-1", SignalType: "breakout", Symbol: "AAPL", Confidence: 82},
		Coalesced:   1,
	}
}

func TestEngine_RunsNodesInDependencyOrder(t *testing.T) {
	md := &fakeAgent{typ: "market_data", cost: "0.01", output: map[string]any{"close": 190.5}}
	bias := &fakeAgent{typ: "bias", cost: "0.02"}
	strat := &fakeAgent{typ: "strategy", cost: "0.03"}
	f := newEngineFixture(t, EngineConfig{}, md, bias, strat)

	// diamond: market_data -> {bias, strategy}, bias -> strategy
	p := f.savePipeline(t, &models.Pipeline{
		ID:       "p1",
		IsActive: true,
		Graph: models.PipelineGraph{
			Nodes: []models.NodeSpec{
				{ID: "strategy", AgentType: "strategy"},
				{ID: "bias", AgentType: "bias"},
				{ID: "market_data", AgentType: "market_data"},
			},
			Edges: []models.Edge{
				{From: "market_data", To: "bias"},
				{From: "bias", To: "strategy"},
				{From: "market_data", To: "strategy"},
			},
		},
	})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)

	exec := f.get(t, id)
	if exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", exec.Status, exec.ErrorMessage)
	}
	if !exec.CostTotal.Equal(*dec("0.06")) {
		t.Fatalf("expected cost 0.06, got %s", exec.CostTotal)
	}
	for _, st := range exec.AgentStates {
		if st.Status != models.AgentCompleted {
			t.Fatalf("node %s is %s", st.NodeID, st.Status)
		}
	}
	if len(strat.calls) != 1 {
		t.Fatalf("strategy invoked %d times", len(strat.calls))
	}
	in := strat.calls[0]
	if _, ok := in.Inputs["market_data"]; !ok {
		t.Fatalf("strategy did not receive market_data output: %v", in.Inputs)
	}
	if _, ok := in.Inputs["bias"]; !ok {
		t.Fatalf("strategy did not receive bias output: %v", in.Inputs)
	}
	if in.Signal == nil || in.Signal.ID != "sig-1" {
		t.Fatalf("strategy did not receive the triggering signal")
	}

	want := []models.ExecutionStatus{models.StatusPending, models.StatusRunning, models.StatusCompleted}
	got := f.events.statuses()
	if len(got) != len(want) {
		t.Fatalf("expected status events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected status events %v, got %v", want, got)
		}
	}
	if f.metrics.finished[string(models.StatusCompleted)] != 1 {
		t.Fatalf("expected completion metric")
	}
}

func TestEngine_AgentFailureFailsExecution(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	risk := &fakeAgent{typ: "risk_manager"}
	trade := &fakeAgent{typ: "trade_manager", err: errors.New("insufficient margin"), places: true}
	after := &fakeAgent{typ: "bias"}
	f := newEngineFixture(t, EngineConfig{}, md, risk, trade, after)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data", "risk_manager", "trade_manager", "bias")})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)

	exec := f.get(t, id)
	if exec.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	st := exec.NodeState("trade_manager")
	if st.Status != models.AgentFailed || st.ErrorMessage != "insufficient margin" {
		t.Fatalf("unexpected trade node state %+v", st)
	}
	if exec.NodeState("bias").Status != models.AgentSkipped {
		t.Fatalf("downstream node must be skipped")
	}
	if after.callCount() != 0 {
		t.Fatalf("downstream agent must not run")
	}
	var failures int64
	mustNotErr(t, f.locks.Get(context.Background(), failureKey(p.ID), &failures))
	if failures != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", failures)
	}
}

func TestEngine_BudgetExceeded(t *testing.T) {
	a := &fakeAgent{typ: "market_data", cost: "0.02"}
	b := &fakeAgent{typ: "bias", cost: "0.05"}
	c := &fakeAgent{typ: "strategy", cost: "0.01"}
	f := newEngineFixture(t, EngineConfig{}, a, b, c)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, BudgetCap: dec("0.05"), Graph: chain("market_data", "bias", "strategy")})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)

	exec := f.get(t, id)
	if exec.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if !exec.CostTotal.Equal(*dec("0.07")) {
		t.Fatalf("expected cost 0.07, got %s", exec.CostTotal)
	}
	if exec.NodeState("bias").Status != models.AgentCompleted {
		t.Fatalf("the node that crossed the cap still completed")
	}
	if exec.NodeState("strategy").Status != models.AgentSkipped || c.callCount() != 0 {
		t.Fatalf("nodes after the cap must not run")
	}
	if exec.ErrorMessage == "" {
		t.Fatalf("expected budget error message")
	}
}

func TestEngine_BudgetAtCapIsAllowed(t *testing.T) {
	a := &fakeAgent{typ: "market_data", cost: "0.02"}
	b := &fakeAgent{typ: "bias", cost: "0.03"}
	f := newEngineFixture(t, EngineConfig{}, a, b)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, BudgetCap: dec("0.05"), Graph: chain("market_data", "bias")})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)
	if exec := f.get(t, id); exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed at exactly the cap, got %s", exec.Status)
	}
}

func approvalPipeline(f *engineFixture, t *testing.T) *models.Pipeline {
	return f.savePipeline(t, &models.Pipeline{
		ID:                     "p1",
		IsActive:               true,
		Mode:                   models.ModeLive,
		RequireApproval:        true,
		ApprovalModes:          []models.ExecutionMode{models.ModeLive},
		ApprovalChannels:       []string{"test"},
		ApprovalTimeoutMinutes: 15,
		Graph:                  chain("market_data", "trade_manager"),
	})
}

func TestEngine_ApprovalTimesOut(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)

	exec := f.get(t, id)
	if exec.Status != models.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", exec.Status)
	}
	if exec.NodeState("trade_manager").Status != models.AgentAwaitingApproval {
		t.Fatalf("gated node must await approval")
	}
	if trade.callCount() != 0 {
		t.Fatalf("trade agent must not run before approval")
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("expected one approval notification, got %d", len(f.notifier.calls))
	}
	timer := f.timers.last()
	if timer == nil || timer.d != 15*time.Minute {
		t.Fatalf("expected a 15m approval timer, got %+v", timer)
	}

	// An early fire re-arms for the remaining window.
	f.clock.Advance(14 * time.Minute)
	timer.f()
	if f.get(t, id).Status != models.StatusAwaitingApproval {
		t.Fatalf("execution must still await approval at 14m")
	}
	rearmed := f.timers.last()
	if rearmed == timer || rearmed.d != time.Minute {
		t.Fatalf("expected timer re-armed for 1m, got %+v", rearmed)
	}

	f.clock.Advance(time.Minute)
	rearmed.f()
	exec = f.get(t, id)
	if exec.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled after timeout, got %s", exec.Status)
	}
	if exec.Approval.Status != models.ApprovalExpired {
		t.Fatalf("expected approval expired, got %s", exec.Approval.Status)
	}
	if exec.NodeState("trade_manager").Status != models.AgentSkipped {
		t.Fatalf("gated node must be skipped")
	}
	if trade.callCount() != 0 {
		t.Fatalf("no trade may be placed after timeout")
	}

	_, err = f.engine.Decide(context.Background(), id, true, "alice")
	mustErrIs(t, err, models.ErrAlreadyDecided)
}

func TestEngine_ApproveResumesAtGatedNode(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true, output: map[string]any{"order_id": "ord-1", "broker": "paper", "position_open": false}}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)

	f.clock.Advance(5 * time.Minute)
	exec, err := f.engine.Decide(context.Background(), id, true, "alice")
	mustNotErr(t, err)
	if exec.Approval.Status != models.ApprovalApproved || exec.Approval.DecidedBy != "alice" {
		t.Fatalf("unexpected approval %+v", exec.Approval)
	}
	f.wait(t)

	exec = f.get(t, id)
	if exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", exec.Status, exec.ErrorMessage)
	}
	if md.callCount() != 1 || trade.callCount() != 1 {
		t.Fatalf("expected each agent once, got market_data=%d trade=%d", md.callCount(), trade.callCount())
	}
	if !f.timers.last().stopped {
		t.Fatalf("approval timer must be stopped on decision")
	}

	_, err = f.engine.Decide(context.Background(), id, false, "bob")
	mustErrIs(t, err, models.ErrAlreadyDecided)
}

func TestEngine_RejectCancels(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)
	exec, err := f.engine.Decide(context.Background(), id, false, "alice")
	mustNotErr(t, err)
	if exec.Status != models.StatusCancelled || exec.Approval.Status != models.ApprovalRejected {
		t.Fatalf("expected cancelled/rejected, got %s/%s", exec.Status, exec.Approval.Status)
	}
	if trade.callCount() != 0 {
		t.Fatalf("trade must not run after rejection")
	}
}

func TestEngine_DecideAfterDeadlineExpires(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)
	f.clock.Advance(16 * time.Minute)
	exec, err := f.engine.Decide(context.Background(), id, true, "alice")
	mustErrIs(t, err, models.ErrApprovalExpired)
	if exec.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", exec.Status)
	}
}

func TestEngine_ApprovalNotRequiredInPaperMode(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)

	req := signalRequest("e1", p.ID)
	req.Mode = models.ModePaper
	id, err := f.engine.Submit(context.Background(), req)
	mustNotErr(t, err)
	if exec := f.get(t, id); exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed without approval, got %s", exec.Status)
	}
}

func TestEngine_OpenPositionEntersMonitoring(t *testing.T) {
	trade := &fakeAgent{typ: "trade_manager", places: true, output: map[string]any{
		domsvc.OutputOrderID: "ord-1",
		domsvc.OutputBroker:  "paper",
		domsvc.OutputOpen:    true,
	}}
	f := newEngineFixture(t, EngineConfig{PollInterval: time.Minute}, trade)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("trade_manager")})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)
	exec := f.get(t, id)
	if exec.Status != models.StatusMonitoring {
		t.Fatalf("expected monitoring, got %s", exec.Status)
	}
	if exec.Monitor == nil || exec.Monitor.OrderID != "ord-1" || exec.Monitor.Broker != "paper" {
		t.Fatalf("unexpected monitor state %+v", exec.Monitor)
	}
	if !exec.Monitor.NextPollAt.Equal(f.clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected next poll %v", exec.Monitor.NextPollAt)
	}
}

func TestEngine_InactivePipelineSkipped(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	f := newEngineFixture(t, EngineConfig{}, md)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: false, Graph: chain("market_data")})

	id, err := f.engine.Submit(context.Background(), signalRequest("e1", p.ID))
	mustNotErr(t, err)
	if id != "" || md.callCount() != 0 {
		t.Fatalf("inactive pipeline must not run")
	}
	if f.metrics.skips("inactive") != 1 {
		t.Fatalf("expected inactive skip")
	}

	manual := signalRequest("e2", p.ID)
	manual.TriggerMode = models.TriggerManual
	id, err = f.engine.Submit(context.Background(), manual)
	mustNotErr(t, err)
	if f.get(t, id).Status != models.StatusCompleted {
		t.Fatalf("manual runs ignore is_active")
	}
}

func TestEngine_RedeliveredRequestDoesNotRerun(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	f := newEngineFixture(t, EngineConfig{}, md)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data")})

	req := signalRequest("e1", p.ID)
	_, err := f.engine.Submit(context.Background(), req)
	mustNotErr(t, err)
	_, err = f.engine.Submit(context.Background(), req)
	mustNotErr(t, err)
	if md.callCount() != 1 {
		t.Fatalf("completed execution must not rerun, agent called %d times", md.callCount())
	}
}

func TestEngine_DeactivatesAfterRepeatedFailures(t *testing.T) {
	md := &fakeAgent{typ: "market_data", err: errors.New("feed down")}
	f := newEngineFixture(t, EngineConfig{DeactivateAfterFailures: 2}, md)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data")})

	for _, id := range []string{"e1", "e2"} {
		_, err := f.engine.Submit(context.Background(), signalRequest(id, p.ID))
		mustNotErr(t, err)
	}
	got, err := f.catalog.GetPipeline(context.Background(), p.ID)
	mustNotErr(t, err)
	if got.IsActive {
		t.Fatalf("pipeline must be deactivated after 2 consecutive failures")
	}
}

func TestEngine_PauseResumeCancel(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	f := newEngineFixture(t, EngineConfig{}, md)
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data")})
	ctx := context.Background()

	exec := models.NewExecution("e1", p, signalRequest("e1", p.ID), f.clock.Now())
	mustNotErr(t, f.store.Create(ctx, exec))
	mustNotErr(t, exec.TransitionTo(models.StatusRunning, f.clock.Now()))
	mustNotErr(t, f.store.Save(ctx, exec))

	paused, err := f.engine.Pause(ctx, "e1")
	mustNotErr(t, err)
	if paused.Status != models.StatusPaused || paused.PausedFrom != models.StatusRunning {
		t.Fatalf("unexpected pause result %s from %s", paused.Status, paused.PausedFrom)
	}
	again, err := f.engine.Pause(ctx, "e1")
	mustNotErr(t, err)
	if again.Version != paused.Version {
		t.Fatalf("pausing a paused execution must be a no-op")
	}

	resumed, err := f.engine.Resume(ctx, "e1")
	mustNotErr(t, err)
	if resumed.Status != models.StatusRunning {
		t.Fatalf("expected running, got %s", resumed.Status)
	}
	f.wait(t)
	if got := f.get(t, "e1"); got.Status != models.StatusCompleted {
		t.Fatalf("resumed execution should complete, got %s", got.Status)
	}

	_, err = f.engine.Cancel(ctx, "e1")
	mustErrIs(t, err, models.ErrNotCancellable)
	_, err = f.engine.Pause(ctx, "e1")
	mustErrIs(t, err, models.ErrInvalidTransition)
}

func TestEngine_CancelPending(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{}, &fakeAgent{typ: "market_data"})
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data")})
	ctx := context.Background()
	mustNotErr(t, f.store.Create(ctx, models.NewExecution("e1", p, signalRequest("e1", p.ID), f.clock.Now())))

	exec, err := f.engine.Cancel(ctx, "e1")
	mustNotErr(t, err)
	if exec.Status != models.StatusCancelled || exec.NodeState("market_data").Status != models.AgentSkipped {
		t.Fatalf("unexpected cancel result %+v", exec)
	}
	again, err := f.engine.Cancel(ctx, "e1")
	mustNotErr(t, err)
	if again.Status != models.StatusCancelled {
		t.Fatalf("cancel must be idempotent")
	}
}

func TestEngine_CancelRefusedWhilePositionOpen(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{}, &fakeAgent{typ: "trade_manager"})
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("trade_manager")})
	ctx := context.Background()
	exec := models.NewExecution("e1", p, signalRequest("e1", p.ID), f.clock.Now())
	mustNotErr(t, f.store.Create(ctx, exec))
	for _, s := range []models.ExecutionStatus{models.StatusRunning, models.StatusMonitoring} {
		mustNotErr(t, exec.TransitionTo(s, f.clock.Now()))
	}
	exec.Monitor = &models.MonitorState{OrderID: "ord-1", Broker: "paper", NextPollAt: f.clock.Now()}
	mustNotErr(t, f.store.Save(ctx, exec))

	_, err := f.engine.Cancel(ctx, "e1")
	mustErrIs(t, err, models.ErrNotCancellable)

	paused, err := f.engine.Pause(ctx, "e1")
	mustNotErr(t, err)
	_, err = f.engine.Cancel(ctx, "e1")
	mustErrIs(t, err, models.ErrNotCancellable)

	resumed, err := f.engine.Resume(ctx, "e1")
	mustNotErr(t, err)
	if paused.PausedFrom != models.StatusMonitoring || resumed.Status != models.StatusMonitoring {
		t.Fatalf("resume must return to monitoring, got %s", resumed.Status)
	}
}

func TestEngine_PauseRequestHonoredByRunner(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{}, &fakeAgent{typ: "market_data"}, &fakeAgent{typ: "bias"})
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("market_data", "bias")})
	ctx := context.Background()
	exec := models.NewExecution("e1", p, signalRequest("e1", p.ID), f.clock.Now())
	mustNotErr(t, f.store.Create(ctx, exec))
	mustNotErr(t, exec.TransitionTo(models.StatusRunning, f.clock.Now()))
	mustNotErr(t, f.store.Save(ctx, exec))

	// Another owner holds the lease, so the pause is recorded as a request.
	ok, err := f.locks.TryLock(ctx, lockKey("e1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	got, err := f.engine.Pause(ctx, "e1")
	mustNotErr(t, err)
	if got.Status != models.StatusRunning {
		t.Fatalf("busy execution stays running until the boundary, got %s", got.Status)
	}
	mustNotErr(t, f.locks.Unlock(ctx, lockKey("e1")))

	mustNotErr(t, f.engine.run(ctx, "e1"))
	if got := f.get(t, "e1"); got.Status != models.StatusPaused {
		t.Fatalf("runner must honor the pause request, got %s", got.Status)
	}
}

func TestEngine_Recover(t *testing.T) {
	md := &fakeAgent{typ: "market_data"}
	trade := &fakeAgent{typ: "trade_manager", places: true}
	f := newEngineFixture(t, EngineConfig{}, md, trade)
	p := approvalPipeline(f, t)
	ctx := context.Background()
	now := f.clock.Now()

	plain := f.savePipeline(t, &models.Pipeline{ID: "p2", IsActive: true, Graph: chain("market_data")})

	// e1: pending, never started
	pending := models.NewExecution("e1", plain, signalRequest("e1", plain.ID), now)
	mustNotErr(t, f.store.Create(ctx, pending))

	// e2: interrupted in the middle of a node
	interrupted := models.NewExecution("e2", plain, signalRequest("e2", plain.ID), now)
	mustNotErr(t, f.store.Create(ctx, interrupted))
	mustNotErr(t, interrupted.TransitionTo(models.StatusRunning, now))
	interrupted.NodeState("market_data").Status = models.AgentRunning
	mustNotErr(t, f.store.Save(ctx, interrupted))

	// e3 and e4: awaiting approval, one still in its window and one expired
	for _, tc := range []struct {
		id      string
		expires time.Time
	}{{"e3", now.Add(10 * time.Minute)}, {"e4", now.Add(-time.Minute)}} {
		e := models.NewExecution(tc.id, p, signalRequest(tc.id, p.ID), now.Add(-20*time.Minute))
		mustNotErr(t, f.store.Create(ctx, e))
		mustNotErr(t, e.TransitionTo(models.StatusRunning, now))
		e.NodeState("market_data").Status = models.AgentCompleted
		e.NodeState("trade_manager").Status = models.AgentAwaitingApproval
		e.Approval = &models.Approval{Status: models.ApprovalPending, NodeID: "trade_manager", RequestedAt: now.Add(-20 * time.Minute), ExpiresAt: tc.expires}
		mustNotErr(t, e.TransitionTo(models.StatusAwaitingApproval, now))
		mustNotErr(t, f.store.Save(ctx, e))
	}

	n, err := f.engine.Recover(ctx)
	mustNotErr(t, err)
	if n != 4 {
		t.Fatalf("expected 4 recovered executions, got %d", n)
	}
	f.wait(t)

	if got := f.get(t, "e1"); got.Status != models.StatusCompleted {
		t.Fatalf("pending execution should run to completion, got %s", got.Status)
	}
	if got := f.get(t, "e2"); got.Status != models.StatusFailed {
		t.Fatalf("interrupted node must fail the execution, got %s", got.Status)
	}
	if got := f.get(t, "e3"); got.Status != models.StatusAwaitingApproval {
		t.Fatalf("approval still in window must keep waiting, got %s", got.Status)
	}
	if timer := f.timers.last(); timer == nil || timer.d != 10*time.Minute {
		t.Fatalf("expected approval timer re-armed for 10m, got %+v", timer)
	}
	if got := f.get(t, "e4"); got.Status != models.StatusCancelled {
		t.Fatalf("expired approval must cancel, got %s", got.Status)
	}
	if trade.callCount() != 0 {
		t.Fatalf("recovery must not place trades")
	}
}
