package usecase

import (
	"context"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"
)

// Gate is the ingest middleware in front of the processor.
type Gate interface {
	Process(ctx context.Context, s *models.Signal) error
}

// SignalCollector reads the external signal feed and pushes every signal
// through the ingest gate.
type SignalCollector struct {
	stream         drepo.SignalStream
	gate           Gate
	logger         *logger.Logger
	reconnectDelay time.Duration
	done           chan struct{}
}

func NewSignalCollector(stream drepo.SignalStream, gate Gate, lgr *logger.Logger, reconnectDelay time.Duration) *SignalCollector {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &SignalCollector{stream: stream, gate: gate, logger: lgr, reconnectDelay: reconnectDelay, done: make(chan struct{})}
}

// IsConnected reports the feed connection state.
func (c *SignalCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

func (c *SignalCollector) run(ctx context.Context) {
	defer close(c.done)
	for {
		sigCh, errCh := c.stream.Read(ctx)
		if !c.consume(ctx, sigCh, errCh) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			if err := c.stream.Reconnect(ctx); err != nil {
				c.logger.Warn("signal feed reconnect failed", logger.Error(err))
				continue
			}
			c.logger.Info("signal feed reconnected")
			break
		}
	}
}

// consume drains one connection. It returns false when ctx is done.
func (c *SignalCollector) consume(ctx context.Context, sigCh <-chan *models.Signal, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errCh:
			if ok && err != nil {
				c.logger.Warn("signal feed error", logger.Error(err))
			}
			return true
		case s, ok := <-sigCh:
			if !ok {
				return true
			}
			if s == nil {
				continue
			}
			if err := c.gate.Process(ctx, s); err != nil {
				c.logger.Debug("signal not accepted",
					logger.String("signal_id", s.ID),
					logger.String("symbol", s.Symbol),
					logger.Error(err))
			}
		}
	}
}

// Shutdown closes the stream and waits for the reader loop.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return err
}
