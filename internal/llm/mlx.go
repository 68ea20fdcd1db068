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

// MLX talks to a local MLX classification server: POST /classify with
// {"prompt","max_tokens"}, {"content":"..."} back.
type MLX struct {
	baseURL string
	client  *http.Client
}

// NewMLX creates the provider for baseURL.
func NewMLX(baseURL string) *MLX {
	if baseURL == "" {
		baseURL = "http://localhost:8765"
	}
	return &MLX{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newLocalHTTPClient(LocalTimeout),
	}
}

// Name returns the provider name.
func (p *MLX) Name() string { return "mlx" }

// ContextChars reports no fixed cap; the server truncates internally.
func (p *MLX) ContextChars() int { return 0 }

// IsAvailable probes the base URL; any HTTP response counts.
func (p *MLX) IsAvailable(ctx context.Context) bool {
	return probeURL(ctx, p.client, p.baseURL)
}

type mlxRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type mlxResponse struct {
	Content string `json:"content"`
}

// Generate posts to /classify.
func (p *MLX) Generate(ctx context.Context, req Request) (*Response, error) {
	prompt := req.Prompt
	if req.Instructions != "" {
		prompt = req.Instructions + "\n\n" + prompt
	}

	body, err := json.Marshal(mlxRequest{Prompt: prompt, MaxTokens: req.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/classify", bytes.NewReader(body))
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
		return nil, fmt.Errorf("mlx error (%d): %s", resp.StatusCode, string(respBody))
	}

	var mlxResp mlxResponse
	if err := json.Unmarshal(respBody, &mlxResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &Response{Content: mlxResp.Content, Model: "mlx-local"}, nil
}
