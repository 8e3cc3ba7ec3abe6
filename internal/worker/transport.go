package worker

import (
	"context"
	"time"
)

// OutboundEmail is one personalized message ready for the transport.
type OutboundEmail struct {
	FromName    string
	FromEmail   string
	ToEmail     string
	Subject     string
	HTMLContent string
	CampaignID  string
	RecipientID string
}

// SendResult is the transport outcome for a single message.
type SendResult struct {
	Success   bool
	MessageID string
	Error     error
	SentAt    time.Time
}

// Transport delivers a single email. Implementations must be safe for
// concurrent use; the orchestrator calls Send from many workers at once.
type Transport interface {
	Send(ctx context.Context, msg *OutboundEmail) (*SendResult, error)
}
