package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripThinkBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no blocks", "plain answer", "plain answer"},
		{"single block", "<think>hmm let me see</think>the answer", "the answer"},
		{"unclosed block", "prefix <think>never ends", "prefix"},
		{"multiple blocks", "<think>a</think>one<think>b</think> two", "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripThinkBlocks(tt.in))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, "bare text", StripFences("bare text"))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"k":"v"}`, `{"k":"v"}`},
		{"object in prose", `Sure! Here: {"k":"v"} hope that helps`, `{"k":"v"}`},
		{"array in fence", "```json\n[1,2,3]\n```", "[1,2,3]"},
		{"nested braces", `{"a":{"b":1}}`, `{"a":{"b":1}}`},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`},
		{"escaped quote inside string", `{"a":"\"}"}`, `{"a":"\"}"}`},
		{"no json", "no structured data here", ""},
		{"unterminated", `{"a":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}
