package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestRegister_ValidatesSchedule(t *testing.T) {
	s := New(time.Minute, logging.Discard())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register(Job{Name: "reminder", Schedule: "0 * * * *", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "reminder", Schedule: "0 * * * *", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "review", Schedule: "not a cron", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "manual", Run: noop}))

	assert.Equal(t, []string{"manual", "reminder"}, s.Jobs())
}

func TestRunOnce_AppliesTimeout(t *testing.T) {
	s := New(20*time.Millisecond, logging.Discard())
	require.NoError(t, s.Register(Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	err := s.RunOnce(context.Background(), "slow")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunOnce_UnknownJob(t *testing.T) {
	s := New(time.Minute, logging.Discard())
	err := s.RunOnce(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownJob))
}

func TestStart_TicksRegisteredJobs(t *testing.T) {
	s := New(time.Minute, logging.Discard())
	var runs int32
	require.NoError(t, s.Register(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}))

	s.Start(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
	assert.Greater(t, atomic.LoadInt32(&runs), int32(0))
}
