package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOllamaModel = "llama3.2:3b"

// Ollama uses the non-chat generate endpoint: single prompt in, single
// response out, no streaming.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates the provider. Empty arguments get the local defaults.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  newLocalHTTPClient(LocalTimeout),
	}
}

// Name returns the provider name.
func (p *Ollama) Name() string { return "ollama" }

// ContextChars reports no fixed cap; Ollama manages its own window.
func (p *Ollama) ContextChars() int { return 0 }

// IsAvailable probes the base URL.
func (p *Ollama) IsAvailable(ctx context.Context) bool {
	return probeURL(ctx, p.client, p.baseURL)
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Generate posts to /api/generate.
func (p *Ollama) Generate(ctx context.Context, req Request) (*Response, error) {
	ollamaReq := ollamaRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.Instructions,
		Stream: false,
	}
	if req.JSONMode {
		ollamaReq.Format = "json"
	}
	if req.MaxTokens > 0 {
		ollamaReq.Options = &ollamaOptions{NumPredict: req.MaxTokens, Temperature: 0}
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama error (%d): %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &Response{
		Content:      ollamaResp.Response,
		Model:        ollamaResp.Model,
		InputTokens:  ollamaResp.PromptEvalCount,
		OutputTokens: ollamaResp.EvalCount,
	}, nil
}
