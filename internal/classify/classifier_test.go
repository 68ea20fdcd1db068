package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCategories() []Category {
	return []Category{
		{ID: "file_operations", Patterns: []string{
			"create file|new file|make a file",
			"read file|open file|show file",
			"delete file|remove file",
		}},
		{ID: "send-sms", Patterns: []string{
			"send message|send sms|text someone",
			"unread messages|new texts",
		}},
		{ID: "weather", Patterns: []string{
			"weather|forecast|temperature outside",
		}},
		{ID: "empty_cat", Patterns: nil},
	}
}

func TestClassifyRecallOnOwnPatterns(t *testing.T) {
	c := New()
	cats := testCategories()

	// Every pattern alternative classifies back to its own category.
	for _, cat := range cats {
		for _, phrase := range splitAlternatives(cat.Patterns) {
			match, ok := c.Classify(phrase, cats)
			require.True(t, ok, "no match for %q", phrase)
			assert.Equal(t, cat.ID, match.CategoryID, "input %q", phrase)
		}
	}
}

func TestClassifySynonymAndInflection(t *testing.T) {
	c := New()
	cats := testCategories()

	// "remove" is a delete synonym; "files" stems to "file".
	match, ok := c.Classify("please remove those files", cats)
	require.True(t, ok)
	assert.Equal(t, "file_operations", match.CategoryID)

	// "sms" canonicalizes to "message".
	match, ok = c.Classify("send sms to john", cats)
	require.True(t, ok)
	assert.Equal(t, "send-sms", match.CategoryID)
	assert.Greater(t, match.Confidence, DefaultThreshold)
	assert.LessOrEqual(t, match.Confidence, 1.0)
}

func TestClassifyNoMatchBelowThreshold(t *testing.T) {
	c := New()
	_, ok := c.Classify("quantum chromodynamics lattice simulation", testCategories())
	assert.False(t, ok)
}

func TestClassifyEmptyInput(t *testing.T) {
	c := New()
	_, ok := c.Classify("", testCategories())
	assert.False(t, ok)
	_, ok = c.Classify("   ", testCategories())
	assert.False(t, ok)
}

func TestClassifyNoCategories(t *testing.T) {
	c := New()
	_, ok := c.Classify("create file", nil)
	assert.False(t, ok)
}

func TestZeroPatternCategoryNeverWins(t *testing.T) {
	c := New()
	cats := []Category{
		{ID: "empty", Patterns: nil},
		{ID: "real", Patterns: []string{"take screenshot|capture screen"}},
	}
	match, ok := c.Classify("take screenshot", cats)
	require.True(t, ok)
	assert.Equal(t, "real", match.CategoryID)

	idf := computeIDF(cats)
	assert.Zero(t, scoreCategory("anything at all", map[string]bool{"anything": true}, cats[0], idf))
}

func TestConfidenceScalesWithMargin(t *testing.T) {
	c := New()
	// Two near-identical categories produce a slim margin and damped
	// confidence; a lone match gets the full margin bonus.
	twins := []Category{
		{ID: "a", Patterns: []string{"play music"}},
		{ID: "b", Patterns: []string{"play a song"}},
	}
	matchTwins, okTwins := c.Classify("play music", twins)
	require.True(t, okTwins)

	solo := []Category{
		{ID: "a", Patterns: []string{"play music"}},
		{ID: "unrelated", Patterns: []string{"send email"}},
	}
	matchSolo, okSolo := c.Classify("play music", solo)
	require.True(t, okSolo)

	assert.Equal(t, "a", matchTwins.CategoryID)
	assert.Equal(t, "a", matchSolo.CategoryID)
	assert.Greater(t, matchSolo.Confidence, matchTwins.Confidence)
}

func TestCustomThreshold(t *testing.T) {
	strict := NewWithThreshold(0.99)
	cats := testCategories()
	// A weak overlap passes the default threshold but not a strict one.
	_, okDefault := New().Classify("show me something about messages", cats)
	_, okStrict := strict.Classify("show me something about messages", cats)
	if okDefault {
		assert.False(t, okStrict)
	}
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"running":    "run",
		"setting":    "set",
		"calling":    "call",
		"missing":    "miss",
		"making":     "make",
		"closing":    "close",
		"created":    "create",
		"creation":   "create",
		"copies":     "copy",
		"copied":     "copy",
		"quickly":    "quick",
		"movement":   "move",
		"darkness":   "dark",
		"readable":   "read",
		"files":      "file",
		"historical": "historic",
		"status":     "status", // -us guard
		"miss":       "miss",   // -ss guard
		"run":        "run",    // no suffix
	}
	for in, want := range tests {
		assert.Equal(t, want, stem(in), "stem(%q)", in)
	}
}

func TestTokenizeDropsFunctionWordsKeepsVerbs(t *testing.T) {
	tokens := tokenize("Please create a file for me")
	assert.Contains(t, tokens, "create")
	assert.Contains(t, tokens, "file")
	assert.NotContains(t, tokens, "please")
	assert.NotContains(t, tokens, "a")
	assert.NotContains(t, tokens, "for")
	assert.NotContains(t, tokens, "me")
}

func TestCanonicalMapsSynonymsBothWays(t *testing.T) {
	assert.Equal(t, "create", canonical("make"))
	assert.Equal(t, "create", canonical("create"))
	assert.Equal(t, "create", canonical("new"))
	assert.Equal(t, "message", canonical("sms"))
	// Inflected synonym: "generating" stems to "generate", then maps.
	assert.Equal(t, "create", canonical("generating"))
}
