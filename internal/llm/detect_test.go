package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable is a base URL nothing listens on.
const unreachable = "http://127.0.0.1:1"

func TestDetectPrefersLocalOverCloud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewFromOptions(Options{
		MLXURL:       unreachable,
		OllamaURL:    srv.URL,
		LMStudioURL:  unreachable,
		GroqAPIKey:   "present",
		GeminiAPIKey: "present",
	}, nil)

	assert.Equal(t, "ollama", c.Name())
}

func TestDetectFallsThroughToAnthropicKey(t *testing.T) {
	c := NewFromOptions(Options{
		MLXURL:          unreachable,
		OllamaURL:       unreachable,
		LMStudioURL:     unreachable,
		AnthropicAPIKey: "sk-ant-test",
	}, nil)

	assert.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, "anthropic", c.Name())
}

func TestDetectNothingAvailable(t *testing.T) {
	c := NewFromOptions(Options{
		MLXURL:      unreachable,
		OllamaURL:   unreachable,
		LMStudioURL: unreachable,
	}, nil)

	assert.False(t, c.IsAvailable(context.Background()))
}

func TestDetectHonorsExplicitOverride(t *testing.T) {
	c := NewFromOptions(Options{
		ProviderOverride: "gemini",
		GeminiAPIKey:     "g-key",
		OllamaURL:        unreachable,
	}, nil)

	assert.Equal(t, "gemini", c.Name())
}

func TestDetectUnknownOverrideFallsBackToAuto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewFromOptions(Options{
		ProviderOverride: "frontier-9000",
		MLXURL:           srv.URL,
		OllamaURL:        unreachable,
		LMStudioURL:      unreachable,
	}, nil)

	require.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, "mlx", c.Name())
}

func TestDetectionIsCached(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
	}))
	defer srv.Close()

	c := NewFromOptions(Options{
		MLXURL:      srv.URL,
		OllamaURL:   unreachable,
		LMStudioURL: unreachable,
	}, nil)

	ctx := context.Background()
	c.IsAvailable(ctx)
	c.IsAvailable(ctx)
	c.IsAvailable(ctx)
	assert.Equal(t, 1, probes)
}
