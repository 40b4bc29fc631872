package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/negotiation"
	"github.com/wolfman30/dental-booking-agent/internal/scheduler"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	once := flag.String("once", "", "run a single job (negotiation, reminder, review) and exit")
	renegotiate := flag.String("renegotiate", "", "queue the appointment id for renegotiation and exit")
	tenantID := flag.String("tenant", "", "tenant of the -renegotiate appointment")
	reason := flag.String("reason", "", "reason recorded with the -renegotiate entry")
	flag.Parse()

	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		once:        strings.TrimSpace(*once),
		renegotiate: strings.TrimSpace(*renegotiate),
		tenantID:    strings.TrimSpace(*tenantID),
		reason:      *reason,
	}
	if err := run(ctx, cfg, logger, opts); err != nil {
		logger.Error("jobs exited with error", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	once        string
	renegotiate string
	tenantID    string
	reason      string
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts runOptions) error {
	rt, err := bootstrap.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := rt.BuildJobs(ctx)
	if err != nil {
		return err
	}
	defer jobs.Close()

	if opts.renegotiate != "" {
		return enqueueRenegotiation(ctx, jobs.Negotiation, opts.tenantID, opts.renegotiate, opts.reason, logger)
	}

	sched, err := rt.BuildScheduler(jobs)
	if err != nil {
		return err
	}
	return serve(ctx, sched, opts.once, logger)
}

// enqueueRenegotiation loads the appointment and hands it to the negotiation queue.
func enqueueRenegotiation(ctx context.Context, job *negotiation.Job, tenantID, rawID, reason string, logger *logging.Logger) error {
	if tenantID == "" {
		return errors.New("-tenant is required with -renegotiate")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid appointment id: %w", err)
	}
	appt, err := job.Appointments.Get(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	entry, err := job.Enqueue(ctx, appt, reason)
	if err != nil {
		return err
	}
	logger.Info("appointment queued for renegotiation", "entry_id", entry.ID, "appointment_id", appt.ID, "tenant_id", tenantID)
	return nil
}

// serve runs one named job when once is set, otherwise the cron loop until ctx ends.
func serve(ctx context.Context, sched *scheduler.Scheduler, once string, logger *logging.Logger) error {
	if once != "" {
		if err := sched.RunOnce(ctx, once); err != nil {
			return fmt.Errorf("run %s: %w", once, err)
		}
		return nil
	}

	sched.Start(ctx)
	<-ctx.Done()
	logger.Info("shutting down scheduler")
	sched.Stop()
	return nil
}
