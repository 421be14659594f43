package service

import (
	"context"

	"AgentFlow/internal/domain/models"
)

// ApprovalNotifier delivers an approval request over one channel.
// Decisions come back through the HTTP approval endpoint.
type ApprovalNotifier interface {
	Channel() string
	RequestApproval(ctx context.Context, e *models.Execution, p *models.Pipeline) error
}
