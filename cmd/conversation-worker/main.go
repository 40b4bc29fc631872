package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	if cfg.UseMemoryQueue {
		logger.Error("conversation worker needs CONVERSATION_QUEUE_URL; the in-memory queue is consumed by the API process")
		os.Exit(1)
	}

	queue, err := bootstrap.BuildQueue(cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}
	agent, err := rt.BuildAgent(awsConfig)
	if err != nil {
		logger.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	worker := conversation.NewWorker(
		agent,
		queue,
		logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)
	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
