package compact

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	available bool
	summary   string
	calls     int
	notes     []string
}

func (f *fakeModel) Summarize(_ context.Context, _ string, note string, _ int) (string, error) {
	f.calls++
	f.notes = append(f.notes, note)
	return f.summary, nil
}

func (f *fakeModel) IsAvailable(context.Context) bool { return f.available }

type memRecorder struct {
	purpose string
	saved   int
}

func (m *memRecorder) RecordBytesSaved(purpose string, bytes int) {
	m.purpose = purpose
	m.saved += bytes
}

func text(role, s string) Message {
	return Message{Role: role, Blocks: []Block{{Type: BlockText, Text: s}}}
}

func toolResult(id, content string, isErr bool) Message {
	return Message{Role: RoleUser, Blocks: []Block{{
		Type: BlockToolResult, ToolUseID: id, ToolName: "run_shell", Content: content, IsError: isErr,
	}}}
}

func conversation() []Message {
	return []Message{
		text(RoleSystem, "You are a careful assistant."),
		text(RoleUser, "clean up my downloads folder"),

		toolResult("toolu_01", strings.Repeat("file listing line\n", 60), false),
		text(RoleAssistant, strings.Repeat("I will now reason about the listing. ", 12)),
		toolResult("toolu_02", strings.Repeat("permission denied\n", 40), true),
		toolResult("toolu_03", "short result", false),

		text(RoleAssistant, "Working on the last step."),
		toolResult("toolu_04", strings.Repeat("recent output\n", 30), false),
		text(RoleAssistant, "Almost done."),
		text(RoleUser, "thanks, keep going"),
	}
}

func TestCompactPreservesHeadAndTail(t *testing.T) {
	model := &fakeModel{available: true, summary: "condensed"}
	c := New(model, nil)

	in := conversation()
	out := c.Compact(context.Background(), in)

	require.Len(t, out, len(in))
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1], out[1])
	for i := len(in) - 4; i < len(in); i++ {
		assert.Equal(t, in[i], out[i], "tail message %d must be untouched", i)
	}
}

func TestCompactToolResults(t *testing.T) {
	model := &fakeModel{available: true, summary: "condensed listing"}
	rec := &memRecorder{}
	c := New(model, rec)

	in := conversation()
	out := c.Compact(context.Background(), in)

	// Oversized tool result: summarized and tagged with its tool-use ID.
	got := out[2].Blocks[0]
	assert.True(t, got.Compacted)
	assert.Equal(t, "[Compacted toolu_01] condensed listing", got.Content)

	// Error result: untouched even though oversized.
	assert.Equal(t, in[4], out[4])
	assert.False(t, out[4].Blocks[0].Compacted)

	// Short result: untouched.
	assert.Equal(t, in[5], out[5])

	assert.Equal(t, "context-compaction", rec.purpose)
	assert.Greater(t, rec.saved, 0)
}

func TestCompactAssistantReasoning(t *testing.T) {
	model := &fakeModel{available: true, summary: "planned the cleanup"}
	c := New(model, nil)

	out := c.Compact(context.Background(), conversation())

	got := out[3].Blocks[0]
	assert.Equal(t, "[Compacted reasoning] planned the cleanup", got.Text)
	assert.Contains(t, model.notes, "reasoning from a prior iteration")
}

func TestCompactNeverResummarizes(t *testing.T) {
	model := &fakeModel{available: true, summary: "condensed"}
	c := New(model, nil)

	once := c.Compact(context.Background(), conversation())
	callsAfterFirst := model.calls
	require.Greater(t, callsAfterFirst, 0)

	twice := c.Compact(context.Background(), once)
	assert.Equal(t, callsAfterFirst, model.calls, "tagged blocks must not hit the model again")
	assert.Equal(t, once, twice)
}

func TestCompactHeadTailFallbackWithoutModel(t *testing.T) {
	c := New(nil, nil)

	content := strings.Repeat("a", 400) + strings.Repeat("z", 400)
	in := []Message{
		text(RoleSystem, "sys"),
		text(RoleUser, "req"),
		toolResult("toolu_01", content, false),
		text(RoleAssistant, "mid"),
		text(RoleAssistant, "t1"),
		text(RoleUser, "t2"),
		text(RoleAssistant, "t3"),
		text(RoleUser, "t4"),
	}
	out := c.Compact(context.Background(), in)

	got := out[2].Blocks[0].Content
	assert.Contains(t, got, elisionNotice)
	assert.Contains(t, got, "[Compacted toolu_01]")
	assert.True(t, strings.Contains(got, strings.Repeat("a", 150)))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("z", 100)))
	assert.Less(t, len(got), len(content))
}

func TestCompactTooShortConversationUntouched(t *testing.T) {
	model := &fakeModel{available: true, summary: "x"}
	c := New(model, nil)

	in := []Message{
		text(RoleSystem, "sys"),
		text(RoleUser, strings.Repeat("long request ", 100)),
		text(RoleAssistant, "t1"),
		text(RoleUser, "t2"),
		text(RoleAssistant, "t3"),
		text(RoleUser, "t4"),
	}
	out := c.Compact(context.Background(), in)
	assert.Equal(t, in, out)
	assert.Zero(t, model.calls)
}

func TestShouldCompactTrigger(t *testing.T) {
	c := NewWithBudget(nil, nil, 1000, 0.5)

	// 500 tokens is the trigger; 1900 chars ≈ 475 tokens stays under.
	under := []Message{text(RoleUser, strings.Repeat("a", 1900))}
	assert.False(t, c.ShouldCompact(under))

	over := []Message{text(RoleUser, strings.Repeat("a", 2100))}
	assert.True(t, c.ShouldCompact(over))
}

func TestCompactIfNeeded(t *testing.T) {
	model := &fakeModel{available: true, summary: "s"}
	c := NewWithBudget(model, nil, 1000, 0.5)

	small := []Message{
		text(RoleSystem, "sys"),
		text(RoleUser, "hello"),
	}
	out, ran := c.CompactIfNeeded(context.Background(), small)
	assert.False(t, ran)
	assert.Equal(t, small, out)

	big := conversation()
	big = append(big[:2], append([]Message{toolResult("toolu_x", strings.Repeat("b", 3000), false)}, big[2:]...)...)
	out, ran = c.CompactIfNeeded(context.Background(), big)
	assert.True(t, ran)
	assert.NotEqual(t, big, out)
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Blocks: []Block{
			{Type: BlockText, Text: strings.Repeat("a", 8)},
			{Type: BlockToolResult, Content: strings.Repeat("b", 10)},
		}},
	}
	// ceil(8/4) + ceil(10/4) = 2 + 3
	assert.Equal(t, 5, EstimateTokens(msgs))
}
