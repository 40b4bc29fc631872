package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type openAIEmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	api   openAIEmbeddingAPI
	model string
}

// NewOpenAIEmbedder creates an embedder for the given model.
func NewOpenAIEmbedder(api openAIEmbeddingAPI, model string) *OpenAIEmbedder {
	if api == nil {
		panic("knowledge: openai client cannot be nil")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{api: api, model: model}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("knowledge: openai embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}

type bedrockInvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockEmbedder calls a Titan text embedding model through Bedrock.
type BedrockEmbedder struct {
	api     bedrockInvokeModelAPI
	modelID string
}

// NewBedrockEmbedder creates a Bedrock-backed embedder.
func NewBedrockEmbedder(api bedrockInvokeModelAPI, modelID string) *BedrockEmbedder {
	if api == nil {
		panic("knowledge: bedrock runtime client cannot be nil")
	}
	return &BedrockEmbedder{api: api, modelID: modelID}
}

func (e *BedrockEmbedder) Model() string { return e.modelID }

func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(e.modelID) == "" {
		return nil, errors.New("knowledge: bedrock embedding model id is required")
	}
	payload, err := json.Marshal(map[string]any{"inputText": text})
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding request marshal: %w", err)
	}
	out, err := e.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: bedrock embed: %w", err)
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return nil, fmt.Errorf("knowledge: embedding response parse: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("knowledge: embedding response was empty")
	}
	vec := make([]float32, len(decoded.Embedding))
	for i, f := range decoded.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
