package llm

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Options carries everything provider construction needs. Built from the
// daemon config; kept separate so tests can point providers at local
// httptest servers.
type Options struct {
	// ProviderOverride skips detection when set to a provider name. Empty or
	// "auto" probes the chain in priority order.
	ProviderOverride string

	OnDeviceBridge string

	MLXURL string

	OllamaURL   string
	OllamaModel string

	LMStudioURL   string
	LMStudioModel string

	GroqAPIKey   string
	GroqModel    string
	GroqEndpoint string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	AnthropicAPIKey string
	AnthropicModel  string
}

// NewFromOptions builds the client with its provider chain in strict
// priority order: on-device, MLX, Ollama, LM Studio, Groq, Gemini, and
// Anthropic terminal. An explicit override narrows the chain to that single
// provider.
func NewFromOptions(opts Options, recorder Recorder) *Client {
	providers := map[string]Provider{
		"ondevice":  NewOnDevice(opts.OnDeviceBridge),
		"mlx":       NewMLX(opts.MLXURL),
		"ollama":    NewOllama(opts.OllamaURL, opts.OllamaModel),
		"lmstudio":  NewLMStudio(opts.LMStudioURL, opts.LMStudioModel),
		"groq":      NewGroq(opts.GroqAPIKey, opts.GroqModel, opts.GroqEndpoint),
		"gemini":    NewGemini(opts.GeminiAPIKey, opts.GeminiModel, opts.GeminiBaseURL),
		"anthropic": NewAnthropic(opts.AnthropicAPIKey, opts.AnthropicModel),
	}

	override := strings.ToLower(strings.TrimSpace(opts.ProviderOverride))
	if override != "" && override != "auto" {
		if p, ok := providers[override]; ok {
			return NewClient([]Provider{p}, recorder)
		}
		log.Warn().Str("provider", override).Msg("Unknown provider override; falling back to auto-detection")
	}

	chain := []Provider{
		providers["ondevice"],
		providers["mlx"],
		providers["ollama"],
		providers["lmstudio"],
		providers["groq"],
		providers["gemini"],
		providers["anthropic"],
	}
	return NewClient(chain, recorder)
}
