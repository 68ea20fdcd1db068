// Package llm is the small-model delegation fabric: one client over seven
// providers (on-device bridge, MLX, Ollama, LM Studio, Groq, Gemini,
// Anthropic), resolved once by availability and failing over down the chain
// at call time. Every successful call is recorded in the token ledger.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/metrics"
	"github.com/darbylab/darby/internal/parallel"
)

var (
	// ErrUnavailable indicates no provider in the chain could serve the call.
	ErrUnavailable = errors.New("no model provider available")

	// ErrUnauthorized marks a cloud 401/403 so the interactive layer can
	// prompt for re-authentication instead of silently retrying.
	ErrUnauthorized = errors.New("provider rejected credentials")
)

// Timeouts per spec: probing is fast, cloud calls are bounded tighter than
// local generation (a local model may be loading weights).
const (
	ProbeTimeout = 500 * time.Millisecond
	CloudTimeout = 15 * time.Second
	LocalTimeout = 30 * time.Second
)

// Request is the provider-independent call shape.
type Request struct {
	Prompt       string
	Instructions string // system prompt; empty means provider default
	MaxTokens    int
	JSONMode     bool // ask the provider for structured output when supported
}

// Response carries plain text content plus token accounting where the
// provider reports it.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the contract each backend implements. Generate returns plain
// text; wire-format differences stay inside the implementation.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, req Request) (*Response, error)
	// ContextChars is the working prompt budget in characters; 0 means no
	// fixed cap and the client will not truncate.
	ContextChars() int
}

// Recorder is the slice of the token ledger the client needs.
type Recorder interface {
	Record(entry ledger.Entry)
}

// Client fans calls out to the resolved provider, failing over down the
// remaining chain when a call errors. Resolution happens once, on first use.
type Client struct {
	mu        sync.Mutex
	chain     []Provider
	resolved  Provider
	attempted bool
	recorder  Recorder
}

// NewClient builds a client over the given provider chain, ordered by
// priority. recorder may be nil.
func NewClient(chain []Provider, recorder Recorder) *Client {
	return &Client{chain: chain, recorder: recorder}
}

// Name returns the resolved provider's name, or "none".
func (c *Client) Name() string {
	if p := c.provider(context.Background()); p != nil {
		return p.Name()
	}
	return "none"
}

// IsAvailable reports whether any provider in the chain answers.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.provider(ctx) != nil
}

// ProviderStatus is one provider's probe outcome.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ProbeAll probes every provider in the chain concurrently, in chain order.
// Unlike provider() it caches nothing; it feeds status surfaces only.
func (c *Client) ProbeAll(ctx context.Context) []ProviderStatus {
	c.mu.Lock()
	chain := make([]Provider, len(c.chain))
	copy(chain, c.chain)
	c.mu.Unlock()

	fns := make([]func(context.Context) (bool, error), len(chain))
	for i, p := range chain {
		fns[i] = func(ctx context.Context) (bool, error) {
			probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
			defer cancel()
			return p.IsAvailable(probeCtx), nil
		}
	}

	statuses := make([]ProviderStatus, len(chain))
	for i, r := range parallel.Map(ctx, parallel.DefaultLimit, fns) {
		statuses[i] = ProviderStatus{Name: chain[i].Name(), Available: r.Value}
	}
	return statuses
}

// provider resolves the chain once and caches the winner. A nil return means
// nothing in the chain is reachable.
func (c *Client) provider(ctx context.Context) Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempted {
		return c.resolved
	}
	c.attempted = true

	for _, p := range c.chain {
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		ok := p.IsAvailable(probeCtx)
		cancel()
		if ok {
			c.resolved = p
			log.Info().Str("provider", p.Name()).Msg("Resolved model provider")
			return p
		}
		log.Debug().Str("provider", p.Name()).Msg("Model provider not available")
	}

	log.Warn().Msg("No model provider available; model-backed tiers disabled")
	return nil
}

// rebind drops the cached provider so the next call re-resolves from the
// position after the failed one.
func (c *Client) rebind(failed Provider) []Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, p := range c.chain {
		if p == failed {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(c.chain) {
		return nil
	}
	return c.chain[idx+1:]
}

// Call sends prompt to the resolved provider and returns plain text. purpose
// tags the ledger entry. instructions may be empty.
func (c *Client) Call(ctx context.Context, prompt string, maxTokens int, purpose, instructions string) (string, error) {
	return c.call(ctx, Request{Prompt: prompt, Instructions: instructions, MaxTokens: maxTokens}, purpose)
}

// Classify sends a JSON-producing prompt and returns the raw model text; the
// caller extracts and parses the JSON payload.
func (c *Client) Classify(ctx context.Context, jsonPrompt string, maxTokens int) (string, error) {
	return c.call(ctx, Request{Prompt: jsonPrompt, MaxTokens: maxTokens, JSONMode: true}, ledger.PurposeClassification)
}

// Summarize compresses content, with contextNote describing where it came
// from so the model keeps the right details.
func (c *Client) Summarize(ctx context.Context, content, contextNote string, maxTokens int) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize the following content concisely. Keep exact numbers, names, paths, and error messages.\n")
	if contextNote != "" {
		b.WriteString("Context: ")
		b.WriteString(contextNote)
		b.WriteString("\n")
	}
	b.WriteString("\nContent:\n")
	b.WriteString(content)

	return c.call(ctx, Request{
		Prompt:       b.String(),
		Instructions: "You compress text. Output only the summary, no preamble.",
		MaxTokens:    maxTokens,
	}, ledger.PurposeSummarization)
}

func (c *Client) call(ctx context.Context, req Request, purpose string) (string, error) {
	p := c.provider(ctx)
	if p == nil {
		return "", ErrUnavailable
	}

	out, err := c.generate(ctx, p, req, purpose)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) {
		return "", err
	}

	// Availability is provider-level; a single call can still fail. Walk the
	// rest of the chain before giving up.
	log.Warn().Err(err).Str("provider", p.Name()).Msg("Model call failed; trying next provider")
	metrics.ModelFailovers.Inc()
	for _, next := range c.rebind(p) {
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		ok := next.IsAvailable(probeCtx)
		cancel()
		if !ok {
			continue
		}
		out, nextErr := c.generate(ctx, next, req, purpose)
		if nextErr == nil {
			c.mu.Lock()
			c.resolved = next
			c.mu.Unlock()
			log.Info().Str("provider", next.Name()).Msg("Rebound model provider after failure")
			return out, nil
		}
		err = nextErr
	}
	return "", fmt.Errorf("all providers failed: %w", err)
}

func (c *Client) generate(ctx context.Context, p Provider, req Request, purpose string) (string, error) {
	if limit := p.ContextChars(); limit > 0 {
		req.Prompt = TruncateForContext(req.Prompt, limit)
	}

	resp, err := p.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	entry := ledger.Entry{
		Provider:     p.Name(),
		Model:        resp.Model,
		Purpose:      purpose,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	// Providers that report no usage get the chars/4 estimate.
	if entry.InputTokens == 0 && entry.OutputTokens == 0 {
		entry.InputTokens = EstimateTokens(req.Prompt) + EstimateTokens(req.Instructions)
		entry.OutputTokens = EstimateTokens(resp.Content)
	}
	if c.recorder != nil {
		c.recorder.Record(entry)
	}
	metrics.RecordModelCall(p.Name(), purpose, entry.InputTokens, entry.OutputTokens)

	return strings.TrimSpace(resp.Content), nil
}

// EstimateTokens approximates token count as ceil(chars/4). Good enough for
// budgeting; never used for billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// ElisionMarker is inserted where truncation removed prompt text.
const ElisionMarker = "\n[... input truncated ...]\n"

// TruncateForContext trims prompt from the tail to fit maxChars, inserting an
// explicit elision marker so the model knows content is missing.
func TruncateForContext(prompt string, maxChars int) string {
	if maxChars <= 0 || len(prompt) <= maxChars {
		return prompt
	}
	keep := maxChars - len(ElisionMarker)
	if keep < 0 {
		keep = 0
	}
	return prompt[:keep] + ElisionMarker
}
