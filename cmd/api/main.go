package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/api/router"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	webhookRatePerSecond = 20
	webhookBurst         = 40
	shutdownTimeout      = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting dental booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queue, err := bootstrap.BuildQueue(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}
	publisher := conversation.NewPublisher(queue, logger)

	// An in-process queue has no external consumer, so the API runs the agent itself.
	var worker *conversation.Worker
	if _, inProcess := queue.(*conversation.MemoryQueue); inProcess {
		agent, err := rt.BuildAgent(awsCfg)
		if err != nil {
			logger.Error("failed to build agent", "error", err)
			os.Exit(1)
		}
		worker = conversation.NewWorker(agent, queue, logger, conversation.WithWorkerCount(cfg.WorkerCount))
		worker.Start(ctx)
	}

	webhook := messaging.NewWebhookHandler(cfg.WhatsAppVerifyToken, publisher, rt.Tenants, rt.MessagingMetrics, logger)
	handler := router.New(&router.Config{
		Logger:               logger,
		Webhook:              webhook,
		MetricsHandler:       promhttp.Handler(),
		ReadyChecks:          readyChecks(rt),
		WebhookRatePerSecond: webhookRatePerSecond,
		WebhookBurst:         webhookBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if worker != nil {
		waitForWorker(shutdownCtx, worker, logger)
	}
	logger.Info("server exited")
}

// readyChecks probes the stores the webhook path depends on.
func readyChecks(rt *bootstrap.Runtime) map[string]router.ReadyCheck {
	checks := map[string]router.ReadyCheck{}
	if rt.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return rt.Pool.Ping(ctx) }
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	return checks
}

func waitForWorker(ctx context.Context, worker *conversation.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("conversation worker stopped")
	case <-ctx.Done():
		logger.Error("conversation worker shutdown timed out", "error", ctx.Err())
	}
}
