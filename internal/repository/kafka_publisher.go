package repository

import (
	"context"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	pkgkafka "AgentFlow/pkg/kafka"
)

// KafkaSignalPublisher publishes signals keyed by symbol so one partition sees
// every signal of a symbol in order.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	metrics  domrepo.Metrics
}

func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic string, metrics domrepo.Metrics) *KafkaSignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic, metrics: metrics}
}

func (p *KafkaSignalPublisher) Publish(ctx context.Context, s *models.Signal) error {
	err := p.producer.Publish(ctx, p.topic, []byte(s.Symbol), s)
	p.metrics.KafkaPublish(p.topic, err == nil)
	return err
}

func (p *KafkaSignalPublisher) PublishBatch(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(signals))
	for i, s := range signals {
		msgs[i] = pkgkafka.Message{Key: []byte(s.Symbol), Value: s}
	}
	err := p.producer.PublishBatch(ctx, p.topic, msgs)
	p.metrics.KafkaPublish(p.topic, err == nil)
	return err
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaEventPublisher publishes execution events keyed by execution id.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	metrics  domrepo.Metrics
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string, metrics domrepo.Metrics) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic, metrics: metrics}
}

func (p *KafkaEventPublisher) PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	err := p.producer.Publish(ctx, p.topic, []byte(ev.ExecutionID), ev)
	p.metrics.KafkaPublish(p.topic, err == nil)
	return err
}

// EventFanout delivers an event to several publishers and returns the first error.
type EventFanout []domrepo.EventPublisher

func (f EventFanout) PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishExecution(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)
	_ domrepo.EventPublisher  = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher  = EventFanout(nil)
)
