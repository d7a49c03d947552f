package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds settings for a local Ollama instance.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// OllamaClient talks to the Ollama generate API.
type OllamaClient struct {
	host   string
	model  string
	client *http.Client
}

var _ Summarizer = (*OllamaClient)(nil)

func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		return nil, fmt.Errorf("ollama host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		host:   host,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (c *OllamaClient) Generate(ctx context.Context, promptType, article string) (string, error) {
	prompt, err := buildPrompt(promptType, article)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal ollama payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}

	out := strings.TrimSpace(parsed.Response)
	if out == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return out, nil
}

// CheckConnection verifies the Ollama host answers a trivial generation.
func (c *OllamaClient) CheckConnection(ctx context.Context) error {
	body, _ := json.Marshal(ollamaRequest{Model: c.model, Prompt: "Hello", Stream: false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.host, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check failed with status %d", resp.StatusCode)
	}
	return nil
}
