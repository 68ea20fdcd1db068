package llm

import "context"

const (
	groqEndpoint     = "https://api.groq.com/openai/v1/chat/completions"
	defaultGroqModel = "llama-3.1-8b-instant"
)

// Groq serves the same wire format as LM Studio from api.groq.com with a
// bearer token.
type Groq struct {
	compat openaiCompat
}

// NewGroq creates the provider. endpoint overrides the default host, for
// tests.
func NewGroq(apiKey, model, endpoint string) *Groq {
	if model == "" {
		model = defaultGroqModel
	}
	if endpoint == "" {
		endpoint = groqEndpoint
	}
	return &Groq{
		compat: openaiCompat{
			endpoint: endpoint,
			model:    model,
			apiKey:   apiKey,
			client:   newCloudHTTPClient(CloudTimeout),
		},
	}
}

// Name returns the provider name.
func (p *Groq) Name() string { return "groq" }

// ContextChars reports no fixed cap.
func (p *Groq) ContextChars() int { return 0 }

// IsAvailable is key presence; no network probe for cloud providers.
func (p *Groq) IsAvailable(ctx context.Context) bool {
	return p.compat.apiKey != ""
}

// Generate sends an OpenAI-shaped chat completion with auth.
func (p *Groq) Generate(ctx context.Context, req Request) (*Response, error) {
	return p.compat.generate(ctx, req)
}
