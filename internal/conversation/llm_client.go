package conversation

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ChatMessage is the provider-neutral message representation used by the agent.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model request to run one tool with JSON arguments.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises one tool and its strict parameter schema.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// ChatRequest is one model round in the tool-calling loop.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// ChatResponse carries the assistant message; ToolCalls is empty on a final reply.
type ChatResponse struct {
	Message      ChatMessage
	FinishReason string
	Usage        TokenUsage
}

// ToolChatClient runs a single tool-aware model round.
type ToolChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// LLMRequest is a plain text completion used for drafting outbound copy.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient produces plain text completions.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
