// Package classify is the in-process TF-IDF classifier over manifest
// categories. It needs no model and no network: when every cheaper tier
// misses and no provider is reachable, this is what still works.
package classify

import (
	"math"
	"strings"
)

// Category is the slice of a manifest category the classifier scores.
type Category struct {
	ID       string
	Patterns []string
}

// Match is a classification outcome above the confidence threshold.
type Match struct {
	CategoryID string
	Score      float64
	Confidence float64
}

const (
	// DefaultThreshold is the minimum confidence for a match.
	DefaultThreshold = 0.35

	exactPhraseWeight  = 3.0
	tokenOverlapWeight = 1.5

	// Confidence scales the winning score by how clearly it beat the
	// runner-up: min(1, score × (marginBase + marginWeight × margin)).
	// Empirically chosen; see the margin computation in Classify.
	marginBase   = 0.65
	marginWeight = 0.35
)

// Classifier scores inputs against categories. Zero-value usable is not
// supported; use New.
type Classifier struct {
	threshold float64
}

// New creates a classifier with the default confidence threshold.
func New() *Classifier {
	return &Classifier{threshold: DefaultThreshold}
}

// NewWithThreshold creates a classifier with a custom threshold.
func NewWithThreshold(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify scores input against every category and returns the winner when
// its confidence clears the threshold.
func (c *Classifier) Classify(input string, categories []Category) (Match, bool) {
	if len(categories) == 0 {
		return Match{}, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	inputSet := canonicalSet(normalized)
	if len(inputSet) == 0 {
		return Match{}, false
	}

	idf := computeIDF(categories)

	best, second := Match{}, Match{}
	for _, cat := range categories {
		score := scoreCategory(normalized, inputSet, cat, idf)
		switch {
		case score > best.Score:
			second = best
			best = Match{CategoryID: cat.ID, Score: score}
		case score > second.Score:
			second = Match{CategoryID: cat.ID, Score: score}
		}
	}
	if best.Score <= 0 {
		return Match{}, false
	}

	margin := 1.0
	if second.Score > 0 {
		margin = (best.Score - second.Score) / best.Score
	}
	best.Confidence = math.Min(1, best.Score*(marginBase+marginWeight*margin))

	if best.Confidence < c.threshold {
		return Match{}, false
	}
	return best, true
}

// scoreCategory combines exact phrase hits with IDF-weighted token overlap,
// normalized by the number of pattern alternatives so verbose categories
// gain no edge.
func scoreCategory(input string, inputSet map[string]bool, cat Category, idf map[string]float64) float64 {
	alternatives := splitAlternatives(cat.Patterns)
	if len(alternatives) == 0 {
		return 0
	}

	score := 0.0
	for _, phrase := range alternatives {
		if strings.Contains(input, phrase) {
			score += exactPhraseWeight
		}

		totalIDF, matchedIDF := 0.0, 0.0
		seen := make(map[string]bool)
		for _, tok := range canonicalTokens(phrase) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			weight := idf[tok]
			totalIDF += weight
			if inputSet[tok] {
				matchedIDF += weight
			}
		}
		if totalIDF > 0 {
			score += tokenOverlapWeight * matchedIDF / totalIDF
		}
	}
	return score / float64(len(alternatives))
}

// computeIDF weighs terms by rarity across the category corpus:
// log((N+1)/(df+1)) + 1.
func computeIDF(categories []Category) map[string]float64 {
	df := make(map[string]int)
	for _, cat := range categories {
		seen := make(map[string]bool)
		for _, phrase := range splitAlternatives(cat.Patterns) {
			for _, tok := range canonicalTokens(phrase) {
				if !seen[tok] {
					seen[tok] = true
					df[tok]++
				}
			}
		}
	}

	n := float64(len(categories))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((n+1)/float64(count+1)) + 1
	}
	return idf
}

// splitAlternatives expands pipe-separated pattern strings into individual
// phrase alternatives, lowercased and trimmed.
func splitAlternatives(patterns []string) []string {
	var out []string
	for _, pattern := range patterns {
		for _, alt := range strings.Split(pattern, "|") {
			if alt = strings.ToLower(strings.TrimSpace(alt)); alt != "" {
				out = append(out, alt)
			}
		}
	}
	return out
}
