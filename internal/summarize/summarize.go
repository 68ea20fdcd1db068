// Package summarize keeps tool output small before it re-enters a model
// context. Small results pass untouched, mid-size results get lossless-ish
// light compression, and large results are condensed by the small model with
// a strategy per tool. The summarizer never fails a request: on any error the
// original content is returned.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/metrics"
	"github.com/darbylab/darby/internal/shell"
)

// Character thresholds. At or below Skip nothing happens; between the two,
// light compression; above Summarize, the model is asked.
const (
	DefaultSkipThreshold      = 500
	DefaultSummarizeThreshold = 800

	maxLineLength    = 500
	summaryMaxTokens = 300
)

// passThroughTools produce compact output by construction; their results are
// never touched.
var passThroughTools = map[string]bool{
	capability.ToolLookup:     true,
	capability.ToolWriteFile:  true,
	capability.ToolCredential: true,
}

// Model is the slice of the small-model client the summarizer needs.
type Model interface {
	Summarize(ctx context.Context, content, contextNote string, maxTokens int) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Recorder tracks bytes removed from future contexts.
type Recorder interface {
	RecordBytesSaved(purpose string, bytes int)
}

// ToolResult is one tool invocation's output, about to re-enter the context.
type ToolResult struct {
	Tool    string
	Input   string // the request that produced it, for summary context
	Content string
	IsError bool
}

// Summarizer applies the threshold ladder. model and recorder may be nil.
type Summarizer struct {
	model              Model
	recorder           Recorder
	skipThreshold      int
	summarizeThreshold int
}

// New creates a summarizer with the default thresholds.
func New(model Model, recorder Recorder) *Summarizer {
	return NewWithThresholds(model, recorder, DefaultSkipThreshold, DefaultSummarizeThreshold)
}

// NewWithThresholds creates a summarizer with explicit thresholds; values
// at or below zero take the defaults.
func NewWithThresholds(model Model, recorder Recorder, skip, summarize int) *Summarizer {
	if skip <= 0 {
		skip = DefaultSkipThreshold
	}
	if summarize <= skip {
		summarize = skip + (DefaultSummarizeThreshold - DefaultSkipThreshold)
	}
	return &Summarizer{
		model:              model,
		recorder:           recorder,
		skipThreshold:      skip,
		summarizeThreshold: summarize,
	}
}

// Process returns the context-ready form of a tool result. The output is
// either strictly shorter than the input or the input unchanged.
func (s *Summarizer) Process(ctx context.Context, res ToolResult) string {
	if res.IsError || passThroughTools[res.Tool] {
		return res.Content
	}
	size := len(res.Content)
	if size <= s.skipThreshold {
		return res.Content
	}

	if size <= s.summarizeThreshold {
		compressed := LightCompress(res.Content)
		s.recordSavings(size - len(compressed))
		return compressed
	}

	out := s.summarizeLarge(ctx, res)
	if len(out) >= size {
		return res.Content
	}
	s.recordSavings(size - len(out))
	return out
}

// summarizeLarge picks the per-tool strategy. Any failure falls back to
// light compression, which at worst returns the input.
func (s *Summarizer) summarizeLarge(ctx context.Context, res ToolResult) string {
	if s.model == nil || !s.model.IsAvailable(ctx) {
		return LightCompress(res.Content)
	}

	var out string
	var err error
	switch res.Tool {
	case capability.ToolShell:
		out, err = s.summarizeShell(ctx, res)
	case capability.ToolReadFile:
		out, err = s.summarizeFileRead(ctx, res)
	default:
		out, err = s.summarizeGeneric(ctx, res)
	}
	if err != nil {
		log.Warn().Err(err).Str("tool", res.Tool).Msg("Summarization failed; keeping original result")
		return res.Content
	}
	return fmt.Sprintf("[Summarized: %d → %d chars] %s", len(res.Content), len(out), out)
}

// summarizeShell keeps the structured fields of a shell result verbatim and
// condenses only stdout.
func (s *Summarizer) summarizeShell(ctx context.Context, res ToolResult) (string, error) {
	var result shell.Result
	if err := json.Unmarshal([]byte(res.Content), &result); err != nil || result.Command == "" {
		return s.summarizeGeneric(ctx, res)
	}

	summary, err := s.model.Summarize(ctx, result.Stdout,
		fmt.Sprintf("stdout of the shell command %q (exit code %d)", result.Command, result.ExitCode),
		summaryMaxTokens)
	if err != nil {
		return "", err
	}

	result.Stdout = summary
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fileReadResult is the structured shape the file-read tool produces.
type fileReadResult struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	Lines     int    `json:"lines,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// summarizeFileRead keeps the file metadata and condenses the contents.
func (s *Summarizer) summarizeFileRead(ctx context.Context, res ToolResult) (string, error) {
	var result fileReadResult
	if err := json.Unmarshal([]byte(res.Content), &result); err != nil || result.Filename == "" {
		return s.summarizeGeneric(ctx, res)
	}

	note := fmt.Sprintf("contents of %s (%s file, %d lines)",
		result.Filename, strings.TrimPrefix(filepath.Ext(result.Filename), "."), result.Lines)
	summary, err := s.model.Summarize(ctx, result.Content, note, summaryMaxTokens)
	if err != nil {
		return "", err
	}

	result.Content = summary
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Summarizer) summarizeGeneric(ctx context.Context, res ToolResult) (string, error) {
	note := fmt.Sprintf("output of the %s tool", res.Tool)
	if res.Input != "" {
		note += fmt.Sprintf(" for the request %q", res.Input)
	}
	return s.model.Summarize(ctx, res.Content, note, summaryMaxTokens)
}

func (s *Summarizer) recordSavings(saved int) {
	if saved <= 0 {
		return
	}
	if s.recorder != nil {
		s.recorder.RecordBytesSaved(ledger.PurposeSummarization, saved)
	}
	metrics.RecordBytesSaved("summarize", saved)
}

var multiSpace = regexp.MustCompile(`  +`)

// LightCompress shrinks text without a model call: trailing whitespace goes,
// runs of two or more spaces collapse to one, lines longer than 500 chars are
// cut to 497 plus an ellipsis, and runs of three or more blank lines collapse
// to two. Applying it twice yields the same output.
func LightCompress(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		line = multiSpace.ReplaceAllString(line, " ")
		if len(line) > maxLineLength {
			cut := maxLineLength - 3
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = line[:cut] + "..."
		}

		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
