package knowledge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBedrock struct {
	body  []byte
	input *bedrockruntime.InvokeModelInput
}

func (s *stubBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	s.input = params
	return &bedrockruntime.InvokeModelOutput{Body: s.body}, nil
}

func TestBedrockEmbedder(t *testing.T) {
	api := &stubBedrock{body: []byte(`{"embedding":[0.5,0.25]}`)}
	e := NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0")

	vec, err := e.Embed(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(api.input.Body, &payload))
	assert.Equal(t, "hola", payload["inputText"])
	assert.Equal(t, "amazon.titan-embed-text-v2:0", *api.input.ModelId)
}

func TestBedrockEmbedder_RequiresModel(t *testing.T) {
	e := NewBedrockEmbedder(&stubBedrock{}, "")
	_, err := e.Embed(context.Background(), "hola")
	require.Error(t, err)
}

type stubOpenAIEmbeddings struct {
	req openai.EmbeddingRequest
}

func (s *stubOpenAIEmbeddings) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	s.req = conv.Convert()
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{1, 2, 3}}}}, nil
}

func TestOpenAIEmbedder(t *testing.T) {
	api := &stubOpenAIEmbeddings{}
	e := NewOpenAIEmbedder(api, "")
	vec, err := e.Embed(context.Background(), "precio")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, openai.SmallEmbedding3, api.req.Model)
}

func TestCachedEmbedder_HitsRedisOnRepeat(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &stubEmbedder{vec: []float32{0.1, 0.2}}
	cached := NewCachedEmbedder(next, client, time.Hour, nil)

	for i := 0; i < 3; i++ {
		vec, err := cached.Embed(context.Background(), "¿abrís el sábado?")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
	}
	assert.Equal(t, 1, next.calls)

	_, err := cached.Embed(context.Background(), "otra pregunta")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
	assert.Len(t, mr.Keys(), 2)
}
