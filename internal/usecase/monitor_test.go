package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
)

type scriptedBroker struct {
	mu      sync.Mutex
	replies []brokerReply
	calls   int
}

type brokerReply struct {
	status domsvc.PositionStatus
	err    error
}

func (b *scriptedBroker) Name() string { return "paper" }

func (b *scriptedBroker) PlaceBracketOrder(context.Context, domsvc.BracketOrder) (domsvc.OrderResult, error) {
	return domsvc.OrderResult{}, errors.New("not used")
}

func (b *scriptedBroker) GetPositionStatus(context.Context, string) (domsvc.PositionStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.replies) == 0 {
		return domsvc.PositionStatus{State: domsvc.PositionOpen}, nil
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	return r.status, r.err
}

type singleBroker struct{ b domsvc.Broker }

func (s singleBroker) ForMode(models.ExecutionMode) (domsvc.Broker, error) { return s.b, nil }

func (s singleBroker) ByName(name string) (domsvc.Broker, error) {
	if name != s.b.Name() {
		return nil, errors.New("unknown broker " + name)
	}
	return s.b, nil
}

func monitoredExecution(t *testing.T, f *engineFixture, id string) {
	t.Helper()
	ctx := context.Background()
	p := f.savePipeline(t, &models.Pipeline{ID: "p1", IsActive: true, Graph: chain("trade_manager")})
	e := models.NewExecution(id, p, signalRequest(id, p.ID), f.clock.Now())
	mustNotErr(t, f.store.Create(ctx, e))
	mustNotErr(t, e.TransitionTo(models.StatusRunning, f.clock.Now()))
	e.NodeState("trade_manager").Status = models.AgentCompleted
	mustNotErr(t, e.TransitionTo(models.StatusMonitoring, f.clock.Now()))
	e.Monitor = &models.MonitorState{OrderID: "ord-1", Broker: "paper", NextPollAt: f.clock.Now()}
	mustNotErr(t, f.store.Save(ctx, e))
}

func newTestMonitor(f *engineFixture, b *scriptedBroker) *Monitor {
	m := NewMonitor(f.engine, singleBroker{b: b}, MonitorConfig{PollInterval: time.Minute, ErrorDelay: 10 * time.Minute}, logger.NewNop())
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m
}

func TestMonitor_ClosedWithPnLCompletes(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	monitoredExecution(t, f, "e1")
	b := &scriptedBroker{replies: []brokerReply{
		{status: domsvc.PositionStatus{State: domsvc.PositionOpen}},
		{status: domsvc.PositionStatus{State: domsvc.PositionClosed, PnL: dec("12.50")}},
	}}
	m := newTestMonitor(f, b)
	ctx := context.Background()

	n, err := m.Poll(ctx)
	mustNotErr(t, err)
	if n != 1 {
		t.Fatalf("expected 1 polled, got %d", n)
	}
	exec := f.get(t, "e1")
	if exec.Status != models.StatusMonitoring || !exec.Monitor.NextPollAt.Equal(f.clock.Now().Add(time.Minute)) {
		t.Fatalf("open position must stay monitored with next poll in 1m, got %s %v", exec.Status, exec.Monitor.NextPollAt)
	}

	// Not due yet.
	n, err = m.Poll(ctx)
	mustNotErr(t, err)
	if n != 0 || b.calls != 1 {
		t.Fatalf("poll before next_poll_at must not hit the broker")
	}

	f.clock.Advance(time.Minute)
	_, err = m.Poll(ctx)
	mustNotErr(t, err)
	exec = f.get(t, "e1")
	if exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}
	if exec.PnL == nil || !exec.PnL.Equal(*dec("12.50")) {
		t.Fatalf("expected pnl 12.50, got %v", exec.PnL)
	}
}

func TestMonitor_ClosedWithoutPnLNeedsReconciliation(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	monitoredExecution(t, f, "e1")
	m := newTestMonitor(f, &scriptedBroker{replies: []brokerReply{
		{status: domsvc.PositionStatus{State: domsvc.PositionClosed}},
	}})

	_, err := m.Poll(context.Background())
	mustNotErr(t, err)
	exec := f.get(t, "e1")
	if exec.Status != models.StatusNeedsReconciliation {
		t.Fatalf("expected needs_reconciliation, got %s", exec.Status)
	}
	if exec.PnL != nil {
		t.Fatalf("pnl must stay unknown")
	}
}

func TestMonitor_BrokerOutageAndRecovery(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	monitoredExecution(t, f, "e1")
	b := &scriptedBroker{replies: []brokerReply{
		{err: errors.New("connection refused")},
		{status: domsvc.PositionStatus{State: domsvc.PositionOpen}},
	}}
	m := newTestMonitor(f, b)
	ctx := context.Background()

	_, err := m.Poll(ctx)
	mustNotErr(t, err)
	exec := f.get(t, "e1")
	if exec.Status != models.StatusCommunicationError {
		t.Fatalf("expected communication_error, got %s", exec.Status)
	}
	if exec.Monitor.Attempts != 1 || exec.Monitor.LastError == "" {
		t.Fatalf("unexpected monitor state %+v", exec.Monitor)
	}
	if !exec.Monitor.NextPollAt.After(f.clock.Now()) {
		t.Fatalf("next poll must be pushed back")
	}

	f.clock.Advance(time.Hour)
	_, err = m.Poll(ctx)
	mustNotErr(t, err)
	exec = f.get(t, "e1")
	if exec.Status != models.StatusMonitoring || exec.Monitor.Attempts != 0 {
		t.Fatalf("expected monitoring with reset attempts, got %s/%d", exec.Status, exec.Monitor.Attempts)
	}
}

func TestMonitor_RetriesWithinOnePoll(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	monitoredExecution(t, f, "e1")
	b := &scriptedBroker{replies: []brokerReply{
		{err: errors.New("timeout")},
		{status: domsvc.PositionStatus{State: domsvc.PositionClosed, PnL: dec("-3")}},
	}}
	m := NewMonitor(f.engine, singleBroker{b: b}, MonitorConfig{PollInterval: time.Minute, RetryMax: 2}, logger.NewNop())
	m.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := m.Poll(context.Background())
	mustNotErr(t, err)
	if exec := f.get(t, "e1"); exec.Status != models.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", exec.Status)
	}
	if b.calls != 2 {
		t.Fatalf("expected 2 broker calls, got %d", b.calls)
	}
}

func TestMonitor_SkipsPausedAndBusy(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	monitoredExecution(t, f, "e1")
	b := &scriptedBroker{}
	m := newTestMonitor(f, b)
	ctx := context.Background()

	ok, err := f.locks.TryLock(ctx, lockKey("e1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	n, err := m.Poll(ctx)
	mustNotErr(t, err)
	if n != 0 || b.calls != 0 {
		t.Fatalf("busy execution must be skipped")
	}
	mustNotErr(t, f.locks.Unlock(ctx, lockKey("e1")))

	_, err = f.engine.Pause(ctx, "e1")
	mustNotErr(t, err)
	n, err = m.Poll(ctx)
	mustNotErr(t, err)
	if n != 0 || b.calls != 0 {
		t.Fatalf("paused execution must not be polled")
	}
}
