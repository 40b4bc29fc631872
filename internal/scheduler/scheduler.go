package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// ErrUnknownJob is returned by RunOnce for an unregistered name.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Job is one periodic trigger.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs on cron expressions. An overlapping tick of
// the same job is skipped, and every run is capped by the job timeout.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	timeout time.Duration
	logger  *logging.Logger

	mu   sync.Mutex
	jobs map[string]Job
	ctx  context.Context
}

// New creates a scheduler. timeout <= 0 defaults to five minutes.
func New(timeout time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  parser,
		timeout: timeout,
		logger:  logger,
		jobs:    map[string]Job{},
		ctx:     context.Background(),
	}
}

// Register validates the expression and adds the job. An empty schedule
// registers the job for RunOnce only.
func (s *Scheduler) Register(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" || job.Run == nil {
		return errors.New("scheduler: job name and run func required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	if expr := strings.TrimSpace(job.Schedule); expr != "" {
		if _, err := s.parser.Parse(expr); err != nil {
			return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", name, expr, err)
		}
		if _, err := s.cron.AddFunc(expr, func() { _ = s.execute(s.baseContext(), name) }); err != nil {
			return fmt.Errorf("scheduler: job %q: %w", name, err)
		}
	}
	job.Name = name
	s.jobs[name] = job
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins ticking; runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Jobs())
}

// Stop stops ticking and waits for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce runs a single job immediately.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	return s.execute(ctx, name)
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("scheduled job failed", "job", name, "duration", elapsed.String(), "error", err)
		return err
	}
	s.logger.Info("scheduled job finished", "job", name, "duration", elapsed.String())
	return nil
}

// cronLogger adapts the slog wrapper to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
