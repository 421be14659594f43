package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"
)

type mockProc struct {
	mu    sync.Mutex
	fail  bool
	calls []*models.Signal
}

func (m *mockProc) Process(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, s)
	if m.fail {
		return errors.New("kafka down")
	}
	return nil
}

func (m *mockProc) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *mockProc) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testLogger() *logger.Logger {
	return logger.NewNop()
}

func TestSignalGate_NormalizesAndForwards(t *testing.T) {
	proc := &mockProc{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewSignalGate(proc, testLogger(), WithGateClock(func() time.Time { return now }, func(time.Duration) {}))

	s := &models.Signal{Symbol: " aapl ", SignalType: "Breakout", Timeframe: "1H", Confidence: 82}
	if err := g.Process(context.Background(), s); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("expected 1 forwarded signal, got %d", proc.count())
	}
	got := proc.calls[0]
	if got.Symbol != "AAPL" || got.SignalType != "breakout" || got.Timeframe != "1h" {
		t.Fatalf("unexpected normalization: %+v", got)
	}
	if got.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !got.EmittedAt.Equal(now) {
		t.Fatalf("expected emitted_at %v, got %v", now, got.EmittedAt)
	}
}

func TestSignalGate_RejectsInvalid(t *testing.T) {
	proc := &mockProc{}
	g := NewSignalGate(proc, testLogger())
	cases := []*models.Signal{
		nil,
		{SignalType: "breakout", Confidence: 50},
		{Symbol: "AAPL", Confidence: 50},
		{Symbol: "AAPL", SignalType: "breakout", Confidence: 101},
		{Symbol: "AAPL", SignalType: "breakout", Confidence: -1},
		{Symbol: "AAPL", SignalType: "breakout", Confidence: 10, Timeframe: "soon"},
	}
	for i, s := range cases {
		if err := g.Process(context.Background(), s); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if proc.count() != 0 {
		t.Fatalf("invalid signals must not be forwarded")
	}
	if st := g.Stats(); st.Invalid != int64(len(cases)) {
		t.Fatalf("expected %d invalid, got %d", len(cases), st.Invalid)
	}
}

func TestSignalGate_ThrottlesPerSymbol(t *testing.T) {
	proc := &mockProc{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewSignalGate(proc, testLogger(),
		WithMaxRPS(1, 2),
		WithGateClock(func() time.Time { return now }, func(time.Duration) {}))

	for i := 0; i < 5; i++ {
		if err := g.Process(context.Background(), &models.Signal{Symbol: "AAPL", SignalType: "breakout", Confidence: 80}); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if err := g.Process(context.Background(), &models.Signal{Symbol: "MSFT", SignalType: "breakout", Confidence: 80}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if proc.count() != 3 {
		t.Fatalf("expected 2 AAPL + 1 MSFT forwarded, got %d", proc.count())
	}
	if st := g.Stats(); st.Throttled != 3 {
		t.Fatalf("expected 3 throttled, got %d", st.Throttled)
	}
}

func TestSignalGate_BuffersAndDrains(t *testing.T) {
	proc := &mockProc{fail: true}
	g := NewSignalGate(proc, testLogger(), WithBufferSize(1), WithGateClock(time.Now, func(time.Duration) {}))

	if err := g.Process(context.Background(), &models.Signal{Symbol: "AAPL", SignalType: "breakout", Confidence: 80}); err == nil {
		t.Fatalf("expected downstream error")
	}
	if err := g.Process(context.Background(), &models.Signal{Symbol: "MSFT", SignalType: "breakout", Confidence: 80}); err == nil {
		t.Fatalf("expected downstream error")
	}
	st := g.Stats()
	if st.Buffered != 1 || st.Dropped != 1 {
		t.Fatalf("expected 1 buffered and 1 dropped, got %+v", st)
	}

	proc.setFail(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for g.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if g.Pending() != 0 {
		t.Fatalf("expected buffer drained")
	}
	if proc.count() != 3 {
		t.Fatalf("expected buffered signal replayed, got %d calls", proc.count())
	}
}
