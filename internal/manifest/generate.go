package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/llm"
)

// Classifier is the slice of the small-model client generation needs.
type Classifier interface {
	Classify(ctx context.Context, jsonPrompt string, maxTokens int) (string, error)
}

const generateMaxTokens = 2000

// Generate builds a fresh manifest: categories from the model (bundled
// defaults when the model is absent or returns garbage), instant answers and
// bash shortcuts from the fixed tables, indexes from the live capabilities.
// The result is persisted before Generate returns.
func (s *Store) Generate(ctx context.Context, classifier Classifier, caps capability.Snapshot) error {
	categories := defaultCategories()

	if classifier != nil {
		if generated, err := generateCategories(ctx, classifier, caps); err != nil {
			log.Warn().Err(err).Msg("Model category generation failed; using bundled defaults")
		} else {
			categories = generated
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	if s.manifest != nil {
		version = s.manifest.Version
	}

	m := &Manifest{
		Version:        version,
		GeneratedAt:    time.Now(),
		InstantAnswers: defaultInstantAnswers(),
		BashCommands:   defaultBashCommands(),
		Categories:     categories,
		ToolIndex:      copyMap(caps.Tools),
		SkillIndex:     copyMap(caps.Skills),
	}
	normalize(m)
	s.manifest = m

	return s.saveLocked()
}

func generateCategories(ctx context.Context, classifier Classifier, caps capability.Snapshot) ([]Category, error) {
	prompt := buildGeneratePrompt(caps)

	raw, err := classifier.Classify(ctx, prompt, generateMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	payload := llm.ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON found in model output")
	}

	var categories []Category
	if err := json.Unmarshal([]byte(payload), &categories); err != nil {
		// Some models wrap the array in an object.
		var wrapped struct {
			Categories []Category `json:"categories"`
		}
		if err2 := json.Unmarshal([]byte(payload), &wrapped); err2 != nil || len(wrapped.Categories) == 0 {
			return nil, fmt.Errorf("parse categories: %w", err)
		}
		categories = wrapped.Categories
	}

	categories = sanitizeCategories(categories)
	if len(categories) == 0 {
		return nil, fmt.Errorf("model returned no usable categories")
	}
	return categories, nil
}

func buildGeneratePrompt(caps capability.Snapshot) string {
	var b strings.Builder
	b.WriteString("Design routing categories for a personal automation assistant.\n\n")

	b.WriteString("Available tools:\n")
	for _, name := range sortedKeys(caps.Tools) {
		fmt.Fprintf(&b, "- %s: %s\n", name, caps.Tools[name])
	}

	if len(caps.Skills) > 0 {
		b.WriteString("\nAvailable skills:\n")
		for _, name := range sortedKeys(caps.Skills) {
			fmt.Fprintf(&b, "- %s: %s\n", name, caps.Skills[name])
		}
	}

	b.WriteString(`
Group likely user requests into 10 to 20 categories. Respond with ONLY a JSON array:
[{"id":"snake_case_name","patterns":["phrase|alternative phrase","another"],"tools":["tool names"],"skills":["skill names"],"agent_type":"react|plan-execute|reflection","prompt_tier":"minimal|standard|full"}]
Rules: patterns are lowercase intent phrases with | separating alternatives; simple lookups get agent_type react and prompt_tier minimal; multi-step workflows get plan-execute and standard or full.`)
	return b.String()
}

// sanitizeCategories drops unusable entries and enforces the invariants on
// the rest.
func sanitizeCategories(in []Category) []Category {
	out := make([]Category, 0, len(in))
	seen := make(map[string]bool)
	for _, cat := range in {
		cat.ID = strings.ToLower(strings.TrimSpace(cat.ID))
		if cat.ID == "" || seen[cat.ID] || len(cat.Patterns) == 0 {
			continue
		}
		seen[cat.ID] = true

		patterns := cat.Patterns[:0]
		for _, p := range cat.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			continue
		}
		cat.Patterns = patterns
		cat.Tools = EnsureCoreTools(cat.Tools)
		if cat.Skills == nil {
			cat.Skills = []string{}
		}
		if !validAgentType(cat.AgentType) {
			cat.AgentType = AgentReact
		}
		if !validPromptTier(cat.PromptTier) {
			cat.PromptTier = TierStandard
		}
		out = append(out, cat)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
