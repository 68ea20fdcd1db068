package route

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/classify"
	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/manifest"
	"github.com/darbylab/darby/internal/metrics"
	"github.com/darbylab/darby/internal/shell"
)

// Tier-2 scoring: full phrases found in the input dominate, shared
// vocabulary accumulates per pattern alternative so categories that use a
// term often outrank ones that mention it once.
const (
	phraseWeight      = 2.0
	tokenWeight       = 0.5
	categoryWinScore  = 1.0
	confidenceDivisor = 3.0
)

// Model-tier confidence: a parsed classification that names a known category
// is trusted; the safe default is barely above noise.
const (
	modelConfidence      = 0.9
	modelLooseConfidence = 0.6
	defaultConfidence    = 0.3
)

const classifyMaxTokens = 400

// ModelClassifier is the slice of the small-model client the router needs.
type ModelClassifier interface {
	Classify(ctx context.Context, jsonPrompt string, maxTokens int) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Router escalates an input through the five tiers. All dependencies except
// the manifest store are optional; missing ones disable their tier.
type Router struct {
	store    *manifest.Store
	model    ModelClassifier
	native   *classify.Classifier
	registry *capability.Registry
	runner   *shell.Runner
}

// New builds a router over the manifest store. model and registry may be nil.
func New(store *manifest.Store, model ModelClassifier, registry *capability.Registry) *Router {
	return &Router{
		store:    store,
		model:    model,
		native:   classify.New(),
		registry: registry,
		runner:   &shell.Runner{},
	}
}

// Route classifies input and returns the cheapest result that can serve it.
// It never returns an error: tier failures fall through, and when every tier
// misses the caller gets the safe default.
func (r *Router) Route(ctx context.Context, input string) Result {
	normalized := strings.ToLower(strings.TrimSpace(input))

	doc := r.store.Manifest()
	if doc == nil {
		doc = manifest.Defaults()
	}

	// Tier 0: instant answers.
	if answer, ok := matchInstant(normalized, doc, time.Now()); ok {
		metrics.RecordRoute("instant")
		log.Debug().Str("input", input).Msg("Routed to instant answer")
		return Result{Kind: KindInstant, Input: input, Answer: answer, Confidence: 1}
	}

	// Tier 1: bash shortcuts.
	if command, ok := matchBashCommand(normalized, doc.BashCommands); ok {
		metrics.RecordRoute("bash_shortcut")
		log.Debug().Str("input", input).Str("command", command).Msg("Routed to bash shortcut")
		return Result{Kind: KindBashShortcut, Input: input, Command: command, Confidence: 1, runner: r.runner}
	}

	// Tier 2: cached category match.
	if cat, score := scoreCategories(normalized, doc.Categories); cat != nil && score >= categoryWinScore {
		confidence := score / confidenceDivisor
		if confidence > 1 {
			confidence = 1
		}
		metrics.RecordRoute("cached")
		log.Debug().Str("input", input).Str("category", cat.ID).Float64("score", score).Msg("Routed via cached category match")
		return r.categoryResult(KindCached, input, normalized, *cat, confidence)
	}

	// Tier 3a: native classifier.
	if match, ok := r.native.Classify(normalized, classifyCategories(doc.Categories)); ok {
		if cat := findCategory(doc.Categories, match.CategoryID); cat != nil {
			metrics.RecordRoute("native")
			log.Debug().Str("input", input).Str("category", cat.ID).Float64("confidence", match.Confidence).Msg("Routed via native classifier")
			return r.categoryResult(KindCached, input, normalized, *cat, match.Confidence)
		}
	}

	// Tier 3b: model classifier.
	if r.model != nil && r.model.IsAvailable(ctx) {
		if res, ok := r.classifyWithModel(ctx, input, normalized, doc); ok {
			metrics.RecordRoute("model")
			return res
		}
	}

	metrics.RecordRoute("default")
	log.Debug().Str("input", input).Msg("No tier matched; returning safe default")
	return r.defaultResult(input, normalized)
}

// categoryResult assembles a Cached/Classified result from a category,
// enforcing tool order and unioning registry-resolved skills.
func (r *Router) categoryResult(kind Kind, input, normalized string, cat manifest.Category, confidence float64) Result {
	tools := manifest.EnsureCoreTools(cat.Tools)

	skills := append([]string(nil), cat.Skills...)
	if r.registry != nil {
		for _, name := range r.registry.Resolve(normalized) {
			if !containsString(skills, name) {
				skills = append(skills, name)
			}
		}
	}

	return Result{
		Kind:       kind,
		Input:      input,
		CategoryID: cat.ID,
		Tools:      tools,
		Skills:     skills,
		AgentType:  cat.AgentType,
		PromptTier: cat.PromptTier,
		Confidence: confidence,
		Analysis:   analyze(normalized, cat.AgentType),
	}
}

// defaultResult is the terminal fallback: shell plus capability lookup, a
// react agent, and low confidence so the agent selector stays conservative.
func (r *Router) defaultResult(input, normalized string) Result {
	return Result{
		Kind:       KindClassified,
		Input:      input,
		Tools:      manifest.EnsureCoreTools(nil),
		Skills:     []string{},
		AgentType:  manifest.AgentReact,
		PromptTier: manifest.TierStandard,
		Confidence: defaultConfidence,
		Analysis:   analyze(normalized, manifest.AgentReact),
	}
}

// classifyWithModel is Tier 3b: a JSON prompt listing category ids and their
// first patterns, answered by the small model.
func (r *Router) classifyWithModel(ctx context.Context, input, normalized string, doc *manifest.Manifest) (Result, bool) {
	raw, err := r.model.Classify(ctx, buildClassifyPrompt(normalized, doc.Categories), classifyMaxTokens)
	if err != nil {
		log.Warn().Err(err).Msg("Model classification failed")
		return Result{}, false
	}

	payload := llm.ExtractJSON(raw)
	if payload == "" {
		log.Warn().Str("output", firstChars(raw, 120)).Msg("Model classification returned no JSON")
		return Result{}, false
	}

	var parsed struct {
		CategoryID string   `json:"category_id"`
		Tools      []string `json:"tools"`
		AgentType  string   `json:"agent_type"`
		PromptTier string   `json:"prompt_tier"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		log.Warn().Err(err).Msg("Model classification JSON did not parse")
		return Result{}, false
	}

	parsed.CategoryID = strings.ToLower(strings.TrimSpace(parsed.CategoryID))
	if cat := findCategory(doc.Categories, parsed.CategoryID); cat != nil {
		merged := *cat
		merged.Tools = append(append([]string(nil), merged.Tools...), parsed.Tools...)
		if validAgent(parsed.AgentType) {
			merged.AgentType = parsed.AgentType
		}
		if validTier(parsed.PromptTier) {
			merged.PromptTier = parsed.PromptTier
		}
		log.Debug().Str("input", input).Str("category", cat.ID).Msg("Routed via model classifier")
		return r.categoryResult(KindClassified, input, normalized, merged, modelConfidence), true
	}

	// The model named a category we do not know. Its tool picks are still
	// usable; everything else gets defaults.
	cat := manifest.Category{
		ID:         parsed.CategoryID,
		Tools:      parsed.Tools,
		AgentType:  manifest.AgentReact,
		PromptTier: manifest.TierStandard,
	}
	if validAgent(parsed.AgentType) {
		cat.AgentType = parsed.AgentType
	}
	if validTier(parsed.PromptTier) {
		cat.PromptTier = parsed.PromptTier
	}
	log.Debug().Str("input", input).Str("category", parsed.CategoryID).Msg("Model classifier named an unknown category")
	return r.categoryResult(KindClassified, input, normalized, cat, modelLooseConfidence), true
}

func buildClassifyPrompt(input string, categories []manifest.Category) string {
	type entry struct {
		ID       string   `json:"id"`
		Patterns []string `json:"patterns"`
	}
	entries := make([]entry, 0, len(categories))
	for _, cat := range categories {
		patterns := cat.Patterns
		if len(patterns) > 3 {
			patterns = patterns[:3]
		}
		entries = append(entries, entry{ID: cat.ID, Patterns: patterns})
	}
	catalog, _ := json.Marshal(entries)

	var b strings.Builder
	b.WriteString("Classify this request into one of the categories below.\n\nRequest: ")
	b.WriteString(input)
	b.WriteString("\n\nCategories:\n")
	b.Write(catalog)
	b.WriteString("\n\nRespond with ONLY a JSON object: {\"category_id\":\"...\",\"tools\":[\"...\"],\"agent_type\":\"react|plan-execute|reflection\",\"prompt_tier\":\"minimal|standard|full\"}")
	return b.String()
}

// matchBashCommand finds a Tier-1 shortcut for input. Multi-word pattern
// alternatives match by substring; single words need word boundaries so
// "time" never fires inside "uptime". Patterns are checked in sorted order
// for determinism.
func matchBashCommand(input string, commands map[string]string) (string, bool) {
	patterns := make([]string, 0, len(commands))
	for p := range commands {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, pattern := range patterns {
		for _, alt := range strings.Split(pattern, "|") {
			alt = strings.ToLower(strings.TrimSpace(alt))
			if alt == "" {
				continue
			}
			if strings.ContainsRune(alt, ' ') {
				if strings.Contains(input, alt) {
					return commands[pattern], true
				}
			} else if containsWord(input, alt) {
				return commands[pattern], true
			}
		}
	}
	return "", false
}

// scoreCategories runs the Tier-2 phrase scorer and returns the best
// category with its raw score. Categories without patterns score zero.
func scoreCategories(input string, categories []manifest.Category) (*manifest.Category, float64) {
	words := strings.Fields(input)

	var best *manifest.Category
	bestScore := 0.0
	for i := range categories {
		cat := &categories[i]
		score := 0.0
		for _, pattern := range cat.Patterns {
			for _, alt := range strings.Split(pattern, "|") {
				alt = strings.TrimSpace(alt)
				if alt == "" {
					continue
				}
				if strings.Contains(input, alt) {
					score += phraseWeight
				}
				for _, token := range strings.Fields(alt) {
					if len(token) < 2 {
						continue
					}
					if overlapsAnyWord(words, token) {
						score += tokenWeight
					}
				}
			}
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best, bestScore
}

// overlapsAnyWord reports whether any input word equals token or shares a
// 4-character prefix relationship with it ("files" ~ "file").
func overlapsAnyWord(words []string, token string) bool {
	for _, w := range words {
		if w == token {
			return true
		}
		if len(w) >= 4 && len(token) >= 4 && (strings.HasPrefix(w, token) || strings.HasPrefix(token, w)) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in input delimited by
// non-word characters.
func containsWord(input, word string) bool {
	for start := 0; ; {
		i := strings.Index(input[start:], word)
		if i < 0 {
			return false
		}
		at := start + i
		end := at + len(word)
		beforeOK := at == 0 || !isWordChar(input[at-1])
		afterOK := end == len(input) || !isWordChar(input[end])
		if beforeOK && afterOK {
			return true
		}
		start = at + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// classifyCategories projects manifest categories into the classifier's
// input shape.
func classifyCategories(categories []manifest.Category) []classify.Category {
	out := make([]classify.Category, len(categories))
	for i, cat := range categories {
		out[i] = classify.Category{ID: cat.ID, Patterns: cat.Patterns}
	}
	return out
}

func findCategory(categories []manifest.Category, id string) *manifest.Category {
	if id == "" {
		return nil
	}
	for i := range categories {
		if categories[i].ID == id {
			return &categories[i]
		}
	}
	return nil
}

// analyze grades the input for the agent selector: word count and chained
// clauses drive complexity and step estimates; the category's agent type
// drives the planning and reflection flags.
func analyze(input, agentType string) Analysis {
	words := len(strings.Fields(input))

	steps := 1
	rest := input
	for _, connector := range []string{" and then ", " after that ", ", then ", " then "} {
		steps += strings.Count(rest, connector)
		rest = strings.ReplaceAll(rest, connector, " ")
	}
	if steps == 1 && strings.Contains(rest, " and ") && words > 6 {
		steps = 2
	}

	var complexity string
	switch {
	case words <= 3 && steps == 1:
		complexity = ComplexityTrivial
	case words <= 12 && steps == 1:
		complexity = ComplexitySimple
	case words <= 24 && steps <= 2:
		complexity = ComplexityModerate
	default:
		complexity = ComplexityComplex
	}

	return Analysis{
		Complexity:      complexity,
		NeedsPlanning:   agentType == manifest.AgentPlanExecute || steps > 1,
		NeedsReflection: agentType == manifest.AgentReflection,
		EstimatedSteps:  steps,
	}
}

func validAgent(s string) bool {
	switch s {
	case manifest.AgentReact, manifest.AgentPlanExecute, manifest.AgentReflection:
		return true
	}
	return false
}

func validTier(s string) bool {
	switch s {
	case manifest.TierMinimal, manifest.TierStandard, manifest.TierFull:
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
