package route

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/manifest"
)

type fakeModel struct {
	available bool
	response  string
	err       error
	prompts   []string
}

func (f *fakeModel) Classify(_ context.Context, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeModel) IsAvailable(context.Context) bool { return f.available }

// loadedStore writes doc to a temp file and loads it, mirroring how the
// daemon sees a previously generated manifest.
func loadedStore(t *testing.T, doc manifest.Manifest) *manifest.Store {
	t.Helper()
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now()
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	store := manifest.NewStore(path)
	require.NoError(t, store.Load())
	return store
}

func emptyStore(t *testing.T) *manifest.Store {
	t.Helper()
	return manifest.NewStore(filepath.Join(t.TempDir(), "manifest.json"))
}

func TestRouteInstantTime(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	res := r.Route(context.Background(), "what time is it")
	require.Equal(t, KindInstant, res.Kind)
	assert.True(t, res.EarlyExit())

	answer, err := res.Resolve(context.Background())
	require.NoError(t, err)
	assert.Contains(t, answer, "current time")
	assert.Contains(t, answer, time.Now().Weekday().String())
}

func TestRouteBashShortcutUptime(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	res := r.Route(context.Background(), "uptime")
	require.Equal(t, KindBashShortcut, res.Kind)
	assert.True(t, res.EarlyExit())
	assert.Equal(t, "uptime", res.Command)

	out, err := res.Resolve(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, strings.TrimSpace(out), out)
}

func TestRouteBashShortcutWordBoundary(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	// "uptimes" must not trip the single-word "uptime" alternative.
	res := r.Route(context.Background(), "what's our uptimes")
	assert.NotEqual(t, KindBashShortcut, res.Kind)
}

func TestRouteCachedCategoryMatch(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	res := r.Route(context.Background(), "create a file called notes.txt")
	require.Equal(t, KindCached, res.Kind)
	assert.False(t, res.EarlyExit())
	assert.Equal(t, "file_operations", res.CategoryID)
	assert.GreaterOrEqual(t, res.Confidence, 0.66)

	require.NotEmpty(t, res.Tools)
	assert.Equal(t, capability.ToolShell, res.Tools[0])
	assert.Equal(t, capability.ToolLookup, res.Tools[len(res.Tools)-1])

	_, err := res.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotResolvable)
}

func TestRouteNativeClassifierFallback(t *testing.T) {
	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "send-sms", Patterns: []string{"send a text|text someone|message a contact"}},
			{ID: "email", Patterns: []string{"check email|read inbox"}},
			{ID: "weather", Patterns: []string{"weather|forecast"}},
		},
	})
	r := New(store, nil, nil)

	// No pattern phrase is a substring and token overlap stays below the
	// cached-match win score, so this reaches the native classifier, which
	// resolves "sms" through the synonym table.
	res := r.Route(context.Background(), "send sms to john")
	require.Equal(t, KindCached, res.Kind)
	assert.Equal(t, "send-sms", res.CategoryID)
	assert.Greater(t, res.Confidence, 0.35)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestRouteModelClassifier(t *testing.T) {
	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "email", Patterns: []string{"check email|read inbox"}, AgentType: manifest.AgentReact},
			{ID: "weather", Patterns: []string{"weather|forecast"}},
		},
	})
	model := &fakeModel{
		available: true,
		response:  `{"category_id":"email","tools":["read_file"],"agent_type":"plan-execute","prompt_tier":"full"}`,
	}
	r := New(store, model, nil)

	res := r.Route(context.Background(), "zzz qqq unroutable input")
	require.Equal(t, KindClassified, res.Kind)
	assert.Equal(t, "email", res.CategoryID)
	assert.Equal(t, manifest.AgentPlanExecute, res.AgentType)
	assert.Equal(t, manifest.TierFull, res.PromptTier)
	assert.InDelta(t, modelConfidence, res.Confidence, 0.001)
	assert.Contains(t, res.Tools, "read_file")
	assert.Equal(t, capability.ToolShell, res.Tools[0])
	assert.Equal(t, capability.ToolLookup, res.Tools[len(res.Tools)-1])

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "email")
	assert.Contains(t, model.prompts[0], "category_id")
}

func TestRouteModelClassifierUnknownCategory(t *testing.T) {
	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "email", Patterns: []string{"check email|read inbox"}},
		},
	})
	model := &fakeModel{
		available: true,
		response:  `{"category_id":"telescope_control","tools":[],"agent_type":"react","prompt_tier":"minimal"}`,
	}
	r := New(store, model, nil)

	res := r.Route(context.Background(), "zzz qqq unroutable input")
	require.Equal(t, KindClassified, res.Kind)
	assert.Equal(t, "telescope_control", res.CategoryID)
	assert.InDelta(t, modelLooseConfidence, res.Confidence, 0.001)
}

func TestRouteModelParseFailureSafeDefault(t *testing.T) {
	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "email", Patterns: []string{"check email|read inbox"}},
		},
	})
	model := &fakeModel{available: true, response: "this is definitely about email, probably"}
	r := New(store, model, nil)

	res := r.Route(context.Background(), "zzz qqq unroutable input")
	require.Equal(t, KindClassified, res.Kind)
	assert.Empty(t, res.CategoryID)
	assert.InDelta(t, defaultConfidence, res.Confidence, 0.001)
	assert.Equal(t, []string{capability.ToolShell, capability.ToolLookup}, res.Tools)
	assert.Equal(t, manifest.AgentReact, res.AgentType)
	assert.Equal(t, manifest.TierStandard, res.PromptTier)
}

func TestRouteModelUnavailableSkipsTier(t *testing.T) {
	model := &fakeModel{available: false, response: `{"category_id":"email"}`}
	r := New(emptyStore(t), model, nil)

	res := r.Route(context.Background(), "zzz qqq unroutable input")
	require.Equal(t, KindClassified, res.Kind)
	assert.InDelta(t, defaultConfidence, res.Confidence, 0.001)
	assert.Empty(t, model.prompts)
}

func TestRouteEmptyInput(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	res := r.Route(context.Background(), "")
	require.Equal(t, KindClassified, res.Kind)
	assert.Equal(t, []string{capability.ToolShell, capability.ToolLookup}, res.Tools)
	assert.InDelta(t, defaultConfidence, res.Confidence, 0.001)
}

func TestRouteZeroPatternCategoryNeverWins(t *testing.T) {
	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "ghost", Patterns: []string{}},
		},
	})
	r := New(store, nil, nil)

	res := r.Route(context.Background(), "do a thing for me")
	assert.NotEqual(t, "ghost", res.CategoryID)
	assert.Equal(t, KindClassified, res.Kind)
}

func TestRouteSkillResolutionUnion(t *testing.T) {
	registry := capability.NewRegistry()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather-report.md"), []byte(
		"---\nname: weather-report\ndescription: Fetch the weather forecast for a city\n---\ncurl wttr.in/{CITY}\n"), 0o644))
	require.NoError(t, registry.LoadSkills(dir))

	store := loadedStore(t, manifest.Manifest{
		Categories: []manifest.Category{
			{ID: "weather", Patterns: []string{"weather|forecast|weather forecast"}, Skills: []string{"existing-skill"}},
		},
	})
	r := New(store, nil, registry)

	res := r.Route(context.Background(), "weather forecast for berlin")
	require.Equal(t, KindCached, res.Kind)
	assert.Contains(t, res.Skills, "existing-skill")
	assert.Contains(t, res.Skills, "weather-report")
	// Category skills come first.
	assert.Equal(t, "existing-skill", res.Skills[0])
}

func TestRouteAnalysisComplexity(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	trivial := r.Route(context.Background(), "list files")
	assert.Equal(t, ComplexityTrivial, trivial.Analysis.Complexity)
	assert.Equal(t, 1, trivial.Analysis.EstimatedSteps)

	multi := r.Route(context.Background(), "read file report.txt and then delete file report.txt please")
	assert.Greater(t, multi.Analysis.EstimatedSteps, 1)
	assert.True(t, multi.Analysis.NeedsPlanning)
}

func TestRouteNeverPanicsOnHostileInput(t *testing.T) {
	r := New(emptyStore(t), nil, nil)

	for _, input := range []string{
		"   ",
		"\n\t",
		strings.Repeat("a", 10000),
		"ünïcödé ïnpüt wïth wëïrd rünës 🎛",
		"|||||",
		"(((",
	} {
		assert.NotPanics(t, func() { r.Route(context.Background(), input) }, "input %q", input)
	}
}

func TestResultKindString(t *testing.T) {
	assert.Equal(t, "instant", KindInstant.String())
	assert.Equal(t, "bash_shortcut", KindBashShortcut.String())
	assert.Equal(t, "cached", KindCached.String())
	assert.Equal(t, "classified", KindClassified.String())
}
