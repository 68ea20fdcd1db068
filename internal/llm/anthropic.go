package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic is the terminal fallback in the provider chain, backed by the
// official SDK.
type Anthropic struct {
	apiKey string
	model  string
	msg    anthropicMessages
}

// anthropicMessages is the slice of the SDK the provider uses; satisfied by
// *sdk.MessageService and by mocks in tests.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// NewAnthropic creates the provider.
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	client := sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(newCloudHTTPClient(CloudTimeout)),
	)
	return &Anthropic{
		apiKey: apiKey,
		model:  model,
		msg:    &client.Messages,
	}
}

// Name returns the provider name.
func (p *Anthropic) Name() string { return "anthropic" }

// ContextChars reports no fixed cap; Claude's window dwarfs every prompt the
// delegation fabric builds.
func (p *Anthropic) ContextChars() int { return 0 }

// IsAvailable is key presence.
func (p *Anthropic) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Generate issues one Messages.New call and flattens the text blocks.
func (p *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.Instructions != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instructions}}
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		var apierr *sdk.Error
		if errors.As(err, &apierr) && (apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content:      text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
