package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// TurnRunner processes one inbound message.
type TurnRunner interface {
	Receive(ctx context.Context, msg InboundMessage) (*TurnResult, error)
}

// Worker consumes inbound jobs and runs the agent for each one.
type Worker struct {
	runner TurnRunner
	queue  QueueClient
	logger *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	turnTimeout      time.Duration
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultTurnTimeout   = 2 * time.Minute
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithTurnTimeout bounds a single agent turn.
func WithTurnTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.turnTimeout = d
		}
	}
}

// NewWorker creates a worker over the queue.
func NewWorker(runner TurnRunner, queue QueueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if runner == nil {
		panic("conversation: turn runner cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		turnTimeout:      defaultTurnTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Worker{runner: runner, queue: queue, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		batch, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range batch {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one turn and deletes the job whatever the outcome.
// Inbound messages are fire-and-forget; a failed turn is traced, not retried.
func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	job, err := decodeInboundJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable conversation job", "error", err, "msg_id", msg.ID)
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, w.cfg.turnTimeout)
	defer cancel()

	result, err := w.runner.Receive(turnCtx, job.Message)
	if err != nil {
		w.logger.Warn("conversation turn ended without reply", "job_id", job.ID, "error", err)
		return
	}
	w.logger.Info("conversation turn replied", "job_id", job.ID, "tenant_id", result.TenantID,
		"rounds", result.Rounds, "latency_ms", time.Since(job.ReceivedAt).Milliseconds())
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
