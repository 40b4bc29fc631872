package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a QueueClient backed by a buffered channel, for local runs
// where the API and worker share a process.
type MemoryQueue struct {
	ch chan QueueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer)}
}

// Send enqueues a body or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := QueueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the first message up to waitSeconds (forever when zero)
// and then drains whatever else is buffered, up to maxMessages.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first := <-q.ch:
		out := []QueueMessage{first}
		for len(out) < maxMessages {
			select {
			case msg := <-q.ch:
				out = append(out, msg)
			default:
				return out, nil
			}
		}
		return out, nil
	}
}

// Delete is a no-op; received messages are already gone from the channel.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

// Len reports buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
