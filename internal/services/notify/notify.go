package notify

import (
	"context"
	"time"

	"AgentFlow/internal/domain/models"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
)

// Channel names accepted in pipeline approval_channels.
const (
	ChannelKafka = "kafka"
	ChannelLog   = "log"
)

// ApprovalMessage is what an approval channel delivers to a reviewer.
type ApprovalMessage struct {
	ExecutionID  string               `json:"execution_id"`
	PipelineID   string               `json:"pipeline_id"`
	PipelineName string               `json:"pipeline_name"`
	Owner        string               `json:"owner"`
	Symbol       string               `json:"symbol"`
	Mode         models.ExecutionMode `json:"mode"`
	NodeID       string               `json:"node_id"`
	RequestedAt  time.Time            `json:"requested_at"`
	ExpiresAt    time.Time            `json:"expires_at"`
	CostTotal    string               `json:"cost_total"`
}

// NewApprovalMessage builds the message for an execution waiting on approval.
func NewApprovalMessage(e *models.Execution, p *models.Pipeline) ApprovalMessage {
	m := ApprovalMessage{
		ExecutionID:  e.ID,
		PipelineID:   e.PipelineID,
		PipelineName: p.Name,
		Owner:        p.Owner,
		Symbol:       e.Symbol,
		Mode:         e.Mode,
		CostTotal:    e.CostTotal.String(),
	}
	if e.Approval != nil {
		m.NodeID = e.Approval.NodeID
		m.RequestedAt = e.Approval.RequestedAt
		m.ExpiresAt = e.Approval.ExpiresAt
	}
	return m
}

// Publisher is the slice of the Kafka producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaNotifier publishes approval requests keyed by execution id.
type KafkaNotifier struct {
	pub   Publisher
	topic string
}

func NewKafkaNotifier(pub Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, topic: topic}
}

func (n *KafkaNotifier) Channel() string { return ChannelKafka }

func (n *KafkaNotifier) RequestApproval(ctx context.Context, e *models.Execution, p *models.Pipeline) error {
	return n.pub.Publish(ctx, n.topic, []byte(e.ID), NewApprovalMessage(e, p))
}

// LogNotifier writes approval requests to the structured log.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(l *logger.Logger) *LogNotifier { return &LogNotifier{logger: l} }

func (n *LogNotifier) Channel() string { return ChannelLog }

func (n *LogNotifier) RequestApproval(_ context.Context, e *models.Execution, p *models.Pipeline) error {
	m := NewApprovalMessage(e, p)
	n.logger.Info("approval requested",
		logger.String("execution_id", m.ExecutionID),
		logger.String("pipeline_id", m.PipelineID),
		logger.String("owner", m.Owner),
		logger.String("symbol", m.Symbol),
		logger.String("node_id", m.NodeID),
		logger.String("expires_at", m.ExpiresAt.Format(time.RFC3339)))
	return nil
}

var (
	_ domsvc.ApprovalNotifier = (*KafkaNotifier)(nil)
	_ domsvc.ApprovalNotifier = (*LogNotifier)(nil)
)
