package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a provider-neutral chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request describes a single completion. An empty Model lets the client use its default.
// A negative Temperature omits the parameter.
type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type Response struct {
	Text       string
	Model      string
	Usage      TokenUsage
	StopReason string
}

// Client is implemented by every text-generation backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
