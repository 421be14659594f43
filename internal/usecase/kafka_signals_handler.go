package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"AgentFlow/internal/domain/models"
	pkgkafka "AgentFlow/pkg/kafka"
	"AgentFlow/pkg/logger"
)

// SignalSink receives decoded signals.
type SignalSink interface {
	OnSignal(ctx context.Context, sig *models.Signal) error
}

// KafkaSignalsHandler consumes the signal topic and hands each signal to the dispatcher.
type KafkaSignalsHandler struct {
	topic  string
	sink   SignalSink
	logger *logger.Logger
}

func NewKafkaSignalsHandler(topic string, sink SignalSink, lgr *logger.Logger) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, sink: sink, logger: lgr}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// Handle decodes one message. Undecodable payloads are returned as errors so
// the consumer routes them to the DLQ.
func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var sig models.Signal
	if err := json.Unmarshal(b, &sig); err != nil {
		h.logger.Warn("undecodable signal", logger.Int("bytes", len(b)), logger.Error(err))
		return fmt.Errorf("decode signal: %w", err)
	}
	if sig.Symbol == "" || sig.SignalType == "" {
		return fmt.Errorf("%w: signal without symbol or type", models.ErrValidation)
	}
	return h.sink.OnSignal(ctx, &sig)
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
