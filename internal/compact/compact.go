// Package compact shrinks agent conversations that outgrow the working token
// budget. The first two messages (system prompt and the initial request) and
// the last four (the current iteration) are never touched; the middle loses
// bulk through model summarization, or head/tail truncation when no model is
// reachable.
package compact

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/metrics"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block types.
const (
	BlockText       = "text"
	BlockToolResult = "tool_result"
)

// Budget and block thresholds.
const (
	DefaultMaxContextTokens = 80000
	DefaultThreshold        = 0.50

	preserveHead = 2
	preserveTail = 4

	toolResultMinChars = 200
	assistantMinChars  = 300

	headChars = 150
	tailChars = 100

	compactMaxTokens = 150
)

// compactedTag marks a block that has already been through compaction so a
// later pass leaves it alone.
const compactedTag = "[Compacted"

const elisionNotice = "\n[... earlier context elided ...]\n"

// Block is one content unit inside a message.
type Block struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Compacted bool   `json:"compacted,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role   string  `json:"role"`
	Blocks []Block `json:"blocks"`
}

// Model is the slice of the small-model client the compactor needs.
type Model interface {
	Summarize(ctx context.Context, content, contextNote string, maxTokens int) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Recorder tracks bytes removed from the context.
type Recorder interface {
	RecordBytesSaved(purpose string, bytes int)
}

// Compactor applies the middle-compaction policy. model and recorder may be
// nil.
type Compactor struct {
	model     Model
	recorder  Recorder
	maxTokens int
	threshold float64
}

// New creates a compactor with the default 80k-token ceiling and 50% trigger.
func New(model Model, recorder Recorder) *Compactor {
	return NewWithBudget(model, recorder, DefaultMaxContextTokens, DefaultThreshold)
}

// NewWithBudget creates a compactor with an explicit ceiling and trigger
// fraction; non-positive values take the defaults.
func NewWithBudget(model Model, recorder Recorder, maxTokens int, threshold float64) *Compactor {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Compactor{model: model, recorder: recorder, maxTokens: maxTokens, threshold: threshold}
}

// EstimateTokens approximates the conversation's token weight with the
// chars/4 heuristic.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		for _, block := range msg.Blocks {
			total += llm.EstimateTokens(block.Text) + llm.EstimateTokens(block.Content)
		}
	}
	return total
}

// ShouldCompact reports whether the conversation has crossed the trigger.
func (c *Compactor) ShouldCompact(messages []Message) bool {
	return EstimateTokens(messages) > int(float64(c.maxTokens)*c.threshold)
}

// CompactIfNeeded compacts when the trigger is crossed, returning the
// (possibly new) slice and whether compaction ran.
func (c *Compactor) CompactIfNeeded(ctx context.Context, messages []Message) ([]Message, bool) {
	if !c.ShouldCompact(messages) {
		return messages, false
	}
	out := c.Compact(ctx, messages)
	return out, true
}

// Compact rewrites the middle of the conversation. The first two and last
// four messages are carried over unchanged.
func (c *Compactor) Compact(ctx context.Context, messages []Message) []Message {
	if len(messages) <= preserveHead+preserveTail {
		return messages
	}

	before := EstimateTokens(messages)
	useModel := c.model != nil && c.model.IsAvailable(ctx)

	out := make([]Message, 0, len(messages))
	out = append(out, messages[:preserveHead]...)

	saved := 0
	for _, msg := range messages[preserveHead : len(messages)-preserveTail] {
		compacted, n := c.compactMessage(ctx, msg, useModel)
		saved += n
		out = append(out, compacted)
	}

	out = append(out, messages[len(messages)-preserveTail:]...)

	if saved > 0 {
		if c.recorder != nil {
			c.recorder.RecordBytesSaved(ledger.PurposeCompaction, saved)
		}
		metrics.RecordBytesSaved("compact", saved)
	}
	log.Debug().
		Int("messages", len(messages)).
		Int("tokens_before", before).
		Int("tokens_after", EstimateTokens(out)).
		Int("bytes_saved", saved).
		Msg("Compacted conversation")
	return out
}

// compactMessage rewrites one middle message, returning it with the bytes
// removed.
func (c *Compactor) compactMessage(ctx context.Context, msg Message, useModel bool) (Message, int) {
	blocks := make([]Block, len(msg.Blocks))
	copy(blocks, msg.Blocks)

	saved := 0
	for i := range blocks {
		block := &blocks[i]
		switch {
		case msg.Role == RoleUser && block.Type == BlockToolResult:
			saved += c.compactToolResult(ctx, block, useModel)
		case msg.Role == RoleAssistant && block.Type == BlockText:
			saved += c.compactAssistantText(ctx, block, useModel)
		}
	}
	return Message{Role: msg.Role, Blocks: blocks}, saved
}

// compactToolResult condenses an oversized tool result, tagging it with its
// tool-use ID so it is never summarized twice. Error results are kept intact.
func (c *Compactor) compactToolResult(ctx context.Context, block *Block, useModel bool) int {
	if block.IsError || block.Compacted || strings.HasPrefix(block.Content, compactedTag) {
		return 0
	}
	if len(block.Content) <= toolResultMinChars {
		return 0
	}

	replacement := c.condense(ctx, block.Content,
		fmt.Sprintf("a tool result from an earlier agent iteration (tool %s)", block.ToolName), useModel)
	tagged := fmt.Sprintf("%s %s] %s", compactedTag, block.ToolUseID, replacement)
	if len(tagged) >= len(block.Content) {
		return 0
	}

	saved := len(block.Content) - len(tagged)
	block.Content = tagged
	block.Compacted = true
	return saved
}

// compactAssistantText condenses long reasoning from earlier iterations.
func (c *Compactor) compactAssistantText(ctx context.Context, block *Block, useModel bool) int {
	if len(block.Text) <= assistantMinChars || strings.HasPrefix(block.Text, compactedTag) {
		return 0
	}

	replacement := c.condense(ctx, block.Text, "reasoning from a prior iteration", useModel)
	tagged := fmt.Sprintf("%s reasoning] %s", compactedTag, replacement)
	if len(tagged) >= len(block.Text) {
		return 0
	}

	saved := len(block.Text) - len(tagged)
	block.Text = tagged
	return saved
}

// condense asks the model, or falls back to head/tail truncation.
func (c *Compactor) condense(ctx context.Context, content, note string, useModel bool) string {
	if useModel {
		summary, err := c.model.Summarize(ctx, content, note, compactMaxTokens)
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			log.Warn().Err(err).Msg("Compaction summarization failed; truncating instead")
		}
	}
	return headTail(content)
}

// headTail keeps the first 150 and last 100 characters around an elision
// notice. Short content is returned unchanged.
func headTail(content string) string {
	if len(content) <= headChars+tailChars+len(elisionNotice) {
		return content
	}

	head := headChars
	for head > 0 && !utf8.RuneStart(content[head]) {
		head--
	}
	tail := len(content) - tailChars
	for tail < len(content) && !utf8.RuneStart(content[tail]) {
		tail++
	}
	return content[:head] + elisionNotice + content[tail:]
}
