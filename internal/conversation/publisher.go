package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Publisher enqueues inbound messages for the conversation worker.
type Publisher struct {
	queue  QueueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue QueueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes one inbound message job and returns its id.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg InboundMessage) (string, error) {
	if msg.SenderID == "" {
		return "", errors.New("conversation: inbound message has no sender")
	}
	job, body, err := encodeInboundJob(msg)
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}
	p.logger.Debug("conversation job enqueued", "job_id", job.ID, "tenant_id", msg.TenantID)
	return job.ID, nil
}
