package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	BaseURL string
	KeyName string // e.g. "openai" or "deepseek"
	Client  *http.Client
}

func NewOpenAI(baseURL, keyName string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if keyName == "" {
		keyName = "openai"
	}
	return &OpenAI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		KeyName: keyName,
		Client:  &http.Client{},
	}
}

func (p *OpenAI) Name() string {
	return p.KeyName
}

func (p *OpenAI) getKey() (string, error) {
	key, err := LoadCredential(p.KeyName)
	if err != nil || strings.TrimSpace(key) == "" {
		return "", &ProviderAuthError{ProviderName: p.KeyName, Msg: "API key not found. Run /connect to reconnect provider."}
	}
	return key, nil
}

func (p *OpenAI) Ping(ctx context.Context) error {
	_, err := p.getKey()
	return err
}

func (p *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	key, err := p.getKey()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", p.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &ProviderAuthError{ProviderName: p.KeyName, Msg: "Unauthorized: Invalid API key"}
		}
		return nil, fmt.Errorf("failed to list models, status %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	models := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		models = append(models, m.ID)
	}
	return models, nil
}

func (p *OpenAI) Complete(ctx context.Context, model string, messages []Message, tools []Tool, onToken TokenCallback) (CompletionResponse, error) {
	key, err := p.getKey()
	if err != nil {
		return CompletionResponse{}, err
	}
	return p.completeWithKey(ctx, key, model, messages, tools, onToken)
}

func (p *OpenAI) completeWithKey(ctx context.Context, key, model string, messages []Message, tools []Tool, onToken TokenCallback) (CompletionResponse, error) {
	var reqMessages []map[string]interface{}
	for _, m := range messages {
		entry := map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.Role == "tool" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			var calls []map[string]interface{}
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(tc.Arguments),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		reqMessages = append(reqMessages, entry)
	}

	hasTools := len(tools) > 0
	payload := map[string]interface{}{
		"model":    model,
		"messages": reqMessages,
	}
	if hasTools {
		var openaiTools []map[string]interface{}
		for _, t := range tools {
			openaiTools = append(openaiTools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			})
		}
		payload["tools"] = openaiTools
		// Non-streaming keeps tool_call argument assembly simple.
		payload["stream"] = false
	} else {
		payload["stream"] = true
		payload["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return CompletionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/chat/completions", bytes.NewBuffer(bodyBytes))
	if err != nil {
		return CompletionResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if !hasTools {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return CompletionResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			return CompletionResponse{}, &ProviderAuthError{ProviderName: p.KeyName, Msg: "Unauthorized: Invalid API key"}
		}
		return CompletionResponse{}, fmt.Errorf("openai compat error: %s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if !hasTools && strings.Contains(contentType, "text/event-stream") {
		return readOpenAIStream(resp.Body, onToken)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, err
	}
	return decodeOpenAIResponse(body, onToken)
}

func decodeOpenAIResponse(body []byte, onToken TokenCallback) (CompletionResponse, error) {
	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string          `json:"name"`
						Arguments json.RawMessage `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return CompletionResponse{}, fmt.Errorf("openai decode error: %w", err)
	}
	if len(result.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("empty response")
	}

	choice := result.Choices[0]
	out := CompletionResponse{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if out.Text != "" && onToken != nil {
		onToken(out.Text)
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return CompletionResponse{}, fmt.Errorf("empty response")
	}
	return out, nil
}

func readOpenAIStream(body io.Reader, onToken TokenCallback) (CompletionResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var out strings.Builder
	var usage Usage
	stopReason := "stop"
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			stopReason = reason
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		out.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}
	if err := scanner.Err(); err != nil {
		return CompletionResponse{}, err
	}
	if strings.TrimSpace(out.String()) == "" {
		return CompletionResponse{}, fmt.Errorf("empty response")
	}
	return CompletionResponse{Text: out.String(), StopReason: stopReason, Usage: usage}, nil
}
