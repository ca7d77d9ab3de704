package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Ollama serves local models through the OpenAI-compatible endpoint ollama
// exposes under /v1. No credential is required.
type Ollama struct {
	compat *OpenAI
	host   string
	Client *http.Client
}

func NewOllama(host string) *Ollama {
	if strings.TrimSpace(host) == "" {
		host = "http://localhost:11434"
	}
	host = strings.TrimRight(host, "/")
	client := &http.Client{}
	return &Ollama{
		compat: &OpenAI{BaseURL: host + "/v1", KeyName: "ollama", Client: client},
		host:   host,
		Client: client,
	}
}

func (p *Ollama) Name() string {
	return "ollama"
}

func (p *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", p.host+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", p.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama ping failed, status %d", resp.StatusCode)
	}
	return nil
}

func (p *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list models, status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		models = append(models, m.Name)
	}
	return models, nil
}

func (p *Ollama) Complete(ctx context.Context, model string, messages []Message, tools []Tool, onToken TokenCallback) (CompletionResponse, error) {
	return p.compat.completeWithKey(ctx, "ollama", model, messages, tools, onToken)
}
