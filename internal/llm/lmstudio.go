package llm

import (
	"context"
	"strings"
)

const defaultLMStudioModel = "local-model"

// LMStudio fronts a local LM Studio server over its OpenAI-compatible API.
type LMStudio struct {
	baseURL string
	compat  openaiCompat
}

// NewLMStudio creates the provider. Empty arguments get the local defaults.
func NewLMStudio(baseURL, model string) *LMStudio {
	if baseURL == "" {
		baseURL = "http://localhost:1234"
	}
	if model == "" {
		model = defaultLMStudioModel
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &LMStudio{
		baseURL: baseURL,
		compat: openaiCompat{
			endpoint: baseURL + "/v1/chat/completions",
			model:    model,
			client:   newLocalHTTPClient(LocalTimeout),
		},
	}
}

// Name returns the provider name.
func (p *LMStudio) Name() string { return "lmstudio" }

// ContextChars reports no fixed cap.
func (p *LMStudio) ContextChars() int { return 0 }

// IsAvailable probes the base URL.
func (p *LMStudio) IsAvailable(ctx context.Context) bool {
	return probeURL(ctx, p.compat.client, p.baseURL)
}

// Generate sends an OpenAI-shaped chat completion.
func (p *LMStudio) Generate(ctx context.Context, req Request) (*Response, error) {
	return p.compat.generate(ctx, req)
}
