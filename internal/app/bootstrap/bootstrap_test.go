package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, BuildRedisClient(ctx, nil, logging.Discard(), true))
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{}, logging.Discard(), true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), true)
	require.NotNil(t, client)
	defer client.Close()
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestBuildRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.Discard(), true))
}

func TestSenderConfig(t *testing.T) {
	cfg := &appconfig.Config{
		WhatsAppAPIBaseURL:    "https://graph.example.com",
		WhatsAppAPIVersion:    "v21.0",
		WhatsAppPhoneNumberID: "pn-default",
		WhatsAppAccessToken:   "token",
	}
	sc := SenderConfig(cfg, nil, logging.Discard())
	assert.Equal(t, "https://graph.example.com", sc.BaseURL)
	assert.Equal(t, "v21.0", sc.APIVersion)
	assert.Equal(t, "pn-default", sc.Default.PhoneNumberID)
	assert.Equal(t, "token", sc.Default.AccessToken)
}

func TestBuildQueueFallsBackToMemory(t *testing.T) {
	q, err := BuildQueue(&appconfig.Config{UseMemoryQueue: true}, aws.Config{}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &conversation.MemoryQueue{}, q)

	q, err = BuildQueue(&appconfig.Config{}, aws.Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &conversation.MemoryQueue{}, q)
}

func TestBuildOpenAIClient(t *testing.T) {
	assert.Nil(t, BuildOpenAIClient(&appconfig.Config{}))
	assert.NotNil(t, BuildOpenAIClient(&appconfig.Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: "http://localhost:9999/v1"}))
}

func TestProviderSelectionErrors(t *testing.T) {
	rt := &Runtime{Config: &appconfig.Config{EmbeddingProvider: "word2vec", DraftProvider: "carrier-pigeon"}, Logger: logging.Discard()}

	_, err := rt.BuildEmbedder(aws.Config{}, nil)
	assert.ErrorContains(t, err, "EMBEDDING_PROVIDER")

	_, _, _, err = rt.BuildDrafter(context.Background(), nil)
	assert.ErrorContains(t, err, "DRAFT_PROVIDER")

	rt.Config.EmbeddingProvider = "openai"
	_, err = rt.BuildEmbedder(aws.Config{}, nil)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestLogSummaryPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	run := logSummary(logging.Discard(), "test", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, run(context.Background()), boom)

	calls := 0
	run = logSummary(logging.Discard(), "test", func(context.Context) (int, error) { calls++; return 3, nil })
	assert.NoError(t, run(context.Background()))
	assert.Equal(t, 1, calls)
}
