package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestReadyChecksOnlyConfiguredStores(t *testing.T) {
	assert.Empty(t, readyChecks(&bootstrap.Runtime{}))

	mr := miniredis.RunT(t)
	client := bootstrap.BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	require.NotNil(t, client)
	defer client.Close()

	checks := readyChecks(&bootstrap.Runtime{Redis: client})
	require.Contains(t, checks, "redis")
	assert.NotContains(t, checks, "postgres")
	assert.NoError(t, checks["redis"](context.Background()))

	mr.Close()
	assert.Error(t, checks["redis"](context.Background()))
}

type noopRunner struct{}

func (noopRunner) Receive(context.Context, conversation.InboundMessage) (*conversation.TurnResult, error) {
	return &conversation.TurnResult{}, nil
}

func TestWaitForWorkerReturnsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	worker := conversation.NewWorker(noopRunner{}, conversation.NewMemoryQueue(1), logging.Discard(),
		conversation.WithWorkerCount(1), conversation.WithReceiveWaitSeconds(1))
	worker.Start(ctx)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	done := make(chan struct{})
	go func() {
		waitForWorker(waitCtx, worker, logging.Discard())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("waitForWorker did not return")
	}
}
