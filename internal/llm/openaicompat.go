package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// openaiCompat implements the OpenAI chat-completions wire format shared by
// LM Studio (local, no auth) and Groq (cloud, bearer token).
type openaiCompat struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

type openaiCompatRequest struct {
	Model          string                `json:"model"`
	Messages       []openaiCompatMsg     `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiCompatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiCompatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiCompatMsg `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openaiCompatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openaiCompat) generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openaiCompatMsg, 0, 2)
	if req.Instructions != "" {
		messages = append(messages, openaiCompatMsg{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, openaiCompatMsg{Role: "user", Content: req.Prompt})

	compatReq := openaiCompatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSONMode {
		compatReq.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(compatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp openaiCompatError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("api error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api error (%d): %s", resp.StatusCode, string(respBody))
	}

	var compatResp openaiCompatResponse
	if err := json.Unmarshal(respBody, &compatResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(compatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Response{
		Content:      compatResp.Choices[0].Message.Content,
		Model:        compatResp.Model,
		InputTokens:  compatResp.Usage.PromptTokens,
		OutputTokens: compatResp.Usage.CompletionTokens,
	}, nil
}
