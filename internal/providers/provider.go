package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

type Message struct {
	Role       string // "user" | "assistant" | "system" | "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// TokenCallback receives each streamed text delta in emission order.
type TokenCallback func(token string)

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type CompletionResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, messages []Message, tools []Tool, onToken TokenCallback) (CompletionResponse, error)
	ListModels(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

type ProviderAuthError struct {
	ProviderName string
	Msg          string
}

func (e *ProviderAuthError) Error() string {
	return e.Msg
}

// ValidateCredential rejects obviously malformed API keys before they are
// persisted or sent over the wire.
func ValidateCredential(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key is empty")
	}
	if len(key) < 8 {
		return errors.New("API key looks too short")
	}
	if strings.ContainsAny(key, " \t\n") {
		return errors.New("API key must not contain whitespace")
	}
	return nil
}
