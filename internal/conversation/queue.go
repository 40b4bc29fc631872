package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueClient is the transport between the webhook and the worker.
type QueueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job body.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

const jobKindInbound = "inbound_message.v1"

// inboundJob is the JSON body of a queued inbound message.
type inboundJob struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Message    InboundMessage `json:"message"`
	ReceivedAt time.Time      `json:"received_at"`
}

func encodeInboundJob(msg InboundMessage) (inboundJob, string, error) {
	job := inboundJob{
		ID:         uuid.NewString(),
		Kind:       jobKindInbound,
		Message:    msg,
		ReceivedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return inboundJob{}, "", fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeInboundJob(body string) (inboundJob, error) {
	var job inboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return inboundJob{}, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	if job.Kind != jobKindInbound {
		return inboundJob{}, fmt.Errorf("conversation: unsupported job kind %q", job.Kind)
	}
	return job, nil
}
