package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var llmTracer = otel.Tracer("dental.internal.conversation.llm")

const modelCallTimeout = 30 * time.Second

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient adapts the OpenAI chat completions API to ToolChatClient and LLMClient.
type OpenAIClient struct {
	client chatClient
	model  string
}

// NewOpenAIClient wraps an OpenAI client with a default model.
func NewOpenAIClient(client chatClient, model string) *OpenAIClient {
	if client == nil {
		panic("conversation: openai client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: client, model: model}
}

// Chat runs one tool-aware round.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, span := llmTracer.Start(ctx, "conversation.openai.chat")
	defer span.End()

	model := req.Model
	if model == "" {
		model = c.model
	}
	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	callCtx, cancel := context.WithTimeout(ctx, modelCallTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, apiReq)
	if err != nil {
		span.RecordError(err)
		return ChatResponse{}, fmt.Errorf("conversation: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("conversation: openai returned no choices")
		span.RecordError(err)
		return ChatResponse{}, err
	}
	choice := resp.Choices[0]
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("dental.openai.tool_calls", len(choice.Message.ToolCalls)),
			attribute.String("dental.openai.finish_reason", string(choice.FinishReason)),
		)
	}

	return ChatResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}

// Complete produces plain text without tools.
func (c *OpenAIClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	msgs := make([]ChatMessage, 0, len(req.System)+len(req.Messages))
	for _, s := range req.System {
		if strings.TrimSpace(s) != "" {
			msgs = append(msgs, ChatMessage{Role: ChatRoleSystem, Content: s})
		}
	}
	msgs = append(msgs, req.Messages...)

	resp, err := c.Chat(ctx, ChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   int(req.MaxTokens),
		Temperature: req.Temperature,
	})
	if err != nil {
		return LLMResponse{}, err
	}
	return LLMResponse{
		Text:       strings.TrimSpace(resp.Message.Content),
		Usage:      resp.Usage,
		StopReason: resp.FinishReason,
	}, nil
}

func toOpenAIMessages(in []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) ChatMessage {
	out := ChatMessage{Role: ChatRoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		params := spec.Parameters
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  &params,
			},
		})
	}
	return tools
}
