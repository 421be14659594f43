package middleware

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/service/ratelimit"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

var timeframePattern = regexp.MustCompile(`^[1-9][0-9]*[mhdw]$`)

// Proc is the downstream the gate forwards accepted signals to.
type Proc interface {
	Process(ctx context.Context, s *models.Signal) error
}

// GateStats are the gate counters since start.
type GateStats struct {
	Accepted  int64 `json:"accepted"`
	Invalid   int64 `json:"invalid"`
	Throttled int64 `json:"throttled"`
	Buffered  int64 `json:"buffered"`
	Dropped   int64 `json:"dropped"`
}

// SignalGate sits between signal sources and the signal topic.
// It validates, normalizes and throttles per symbol, and buffers signals
// while the downstream is unavailable.
type SignalGate struct {
	proc    Proc
	logger  *logger.Logger
	limiter *ratelimit.Limiter
	bufCh   chan *models.Signal
	stopCh  chan struct{}
	now     func() time.Time
	sleep   func(time.Duration)

	mu      sync.Mutex
	started bool

	accepted  atomic.Int64
	invalid   atomic.Int64
	throttled atomic.Int64
	buffered  atomic.Int64
	dropped   atomic.Int64

	maxRPS  float64
	burst   int
	bufSize int
}

type GateOption func(*SignalGate)

// WithMaxRPS sets the sustained signals per second allowed per symbol.
func WithMaxRPS(rps float64, burst int) GateOption {
	return func(g *SignalGate) {
		g.maxRPS = rps
		if burst > 0 {
			g.burst = burst
		}
	}
}

// WithBufferSize sets the buffer used while downstream is unavailable.
func WithBufferSize(n int) GateOption {
	return func(g *SignalGate) {
		if n > 0 {
			g.bufSize = n
		}
	}
}

// WithGateClock replaces the time source and the retry sleeper; used by tests.
func WithGateClock(now func() time.Time, sleep func(time.Duration)) GateOption {
	return func(g *SignalGate) {
		g.now = now
		g.sleep = sleep
	}
}

func NewSignalGate(proc Proc, lgr *logger.Logger, opts ...GateOption) *SignalGate {
	g := &SignalGate{
		proc:    proc,
		logger:  lgr,
		stopCh:  make(chan struct{}),
		now:     time.Now,
		sleep:   time.Sleep,
		maxRPS:  20,
		burst:   20,
		bufSize: 1000,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.bufCh = make(chan *models.Signal, g.bufSize)
	g.limiter = ratelimit.New(g.burst, g.maxRPS).WithClock(g.now)
	return g
}

// Start launches the buffer drain loop.
func (g *SignalGate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()
	go g.drain(ctx)
}

func (g *SignalGate) drain(ctx context.Context) {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case s := <-g.bufCh:
			if err := g.proc.Process(ctx, s); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				g.sleep(backoff)
				g.buffer(s)
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop ends the drain loop. Buffered signals are abandoned.
func (g *SignalGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return
	}
	g.started = false
	close(g.stopCh)
}

// Process validates and forwards one signal. A throttled signal is dropped
// without error. A downstream failure buffers the signal and is returned.
func (g *SignalGate) Process(ctx context.Context, s *models.Signal) error {
	if err := g.normalize(s); err != nil {
		g.invalid.Add(1)
		return err
	}
	if !g.limiter.Allow(s.Symbol) {
		g.throttled.Add(1)
		g.logger.Debug("signal throttled", logger.String("symbol", s.Symbol), logger.String("signal_id", s.ID))
		return nil
	}
	if err := g.proc.Process(ctx, s); err != nil {
		g.buffer(s)
		g.logger.Warn("signal downstream unavailable, buffered",
			logger.String("signal_id", s.ID),
			logger.String("symbol", s.Symbol),
			logger.Error(err))
		return fmt.Errorf("signal downstream: %w", err)
	}
	g.accepted.Add(1)
	return nil
}

func (g *SignalGate) buffer(s *models.Signal) {
	select {
	case g.bufCh <- s:
		g.buffered.Add(1)
	default:
		g.dropped.Add(1)
		g.logger.Error("signal buffer full, dropped", logger.String("signal_id", s.ID), logger.String("symbol", s.Symbol))
	}
}

// Pending returns the number of buffered signals.
func (g *SignalGate) Pending() int { return len(g.bufCh) }

// Stats returns a copy of the counters.
func (g *SignalGate) Stats() GateStats {
	return GateStats{
		Accepted:  g.accepted.Load(),
		Invalid:   g.invalid.Load(),
		Throttled: g.throttled.Load(),
		Buffered:  g.buffered.Load(),
		Dropped:   g.dropped.Load(),
	}
}

func (g *SignalGate) normalize(s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("%w: signal nil", models.ErrValidation)
	}
	s.Symbol = models.NormalizeSymbol(s.Symbol)
	s.SignalType = strings.ToLower(strings.TrimSpace(s.SignalType))
	s.Timeframe = strings.ToLower(strings.TrimSpace(s.Timeframe))
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol empty", models.ErrValidation)
	}
	if s.SignalType == "" {
		return fmt.Errorf("%w: signal_type empty", models.ErrValidation)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("%w: confidence %.2f out of range", models.ErrValidation, s.Confidence)
	}
	if s.Timeframe != "" && !domrepo.IsValidTimeframe(domrepo.Timeframe(s.Timeframe)) && !timeframePattern.MatchString(s.Timeframe) {
		return fmt.Errorf("%w: unsupported timeframe %q", models.ErrValidation, s.Timeframe)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.EmittedAt.IsZero() {
		s.EmittedAt = g.now().UTC()
	}
	return nil
}
