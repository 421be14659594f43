package usecase

import (
	"context"
	"fmt"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
)

// Signal routing backends.
const (
	BackendKafka  = "kafka"
	BackendDirect = "direct"
)

// SignalProcessor routes accepted signals either onto the signal topic or
// straight into the dispatcher when Kafka is disabled.
type SignalProcessor struct {
	pub     drepo.SignalPublisher
	sink    SignalSink
	metrics drepo.Metrics
	backend string
}

func NewSignalProcessor(pub drepo.SignalPublisher, sink SignalSink, metrics drepo.Metrics, backend string) *SignalProcessor {
	return &SignalProcessor{pub: pub, sink: sink, metrics: metrics, backend: backend}
}

// Process routes a single signal.
func (p *SignalProcessor) Process(ctx context.Context, s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("signal is nil")
	}
	var err error
	switch p.backend {
	case BackendKafka:
		err = p.pub.Publish(ctx, s)
	case BackendDirect:
		err = p.sink.OnSignal(ctx, s)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		return fmt.Errorf("process signal: %w", err)
	}
	p.metrics.SignalGenerated(s.Source)
	return nil
}

// ProcessBatch routes several signals at once.
func (p *SignalProcessor) ProcessBatch(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	if p.backend == BackendKafka {
		if err := p.pub.PublishBatch(ctx, signals); err != nil {
			return fmt.Errorf("process batch: %w", err)
		}
		for _, s := range signals {
			p.metrics.SignalGenerated(s.Source)
		}
		return nil
	}
	for _, s := range signals {
		if err := p.Process(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher if any.
func (p *SignalProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
}
