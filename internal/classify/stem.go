package classify

import "strings"

// A basic longest-first suffix stemmer for English inflections. Deliberately
// not Porter: precision over recall. Both inputs and patterns pass through
// the same rules, so a conservative miss still matches itself.

type suffixRule struct {
	suffix  string
	replace string
	minStem int // minimum remaining stem length for the rule to apply
}

// Ordered longest suffix first; the first applicable rule wins.
var suffixRules = []suffixRule{
	{"ation", "ate", 2},
	{"ition", "e", 3},
	{"ment", "", 4},
	{"ness", "", 3},
	{"able", "", 3},
	{"ible", "", 3},
	{"ical", "ic", 3},
	{"ies", "y", 2},
	{"ied", "y", 2},
	{"ing", "", 3},
	{"ed", "", 3},
	{"ly", "", 3},
	{"er", "", 4},
	{"es", "", 3},
	{"s", "", 3},
}

// Doubled trailing consonants restored to single after -ing/-ed stripping
// (running → run). Letters outside this set keep the double (call, miss).
const degeminate = "bgmnprt"

func stem(token string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(token, rule.suffix) {
			continue
		}
		stemmed := token[:len(token)-len(rule.suffix)] + rule.replace
		if len(stemmed) < rule.minStem {
			continue
		}
		if rule.suffix == "s" && (strings.HasSuffix(token, "ss") || strings.HasSuffix(token, "us") || strings.HasSuffix(token, "is")) {
			continue
		}
		// -es only marks plurals after sibilants (boxes, misses); for the
		// rest the plain -s rule leaves the final e alone (files, creates).
		if rule.suffix == "es" && !esInsertionEnding(token) {
			continue
		}
		if rule.suffix == "ing" || rule.suffix == "ed" {
			stemmed = restoreStem(stemmed)
		}
		return stemmed
	}
	return token
}

// restoreStem repairs stems mangled by -ing/-ed stripping: degeminates
// doubled consonants and restores a dropped final e where the ending shows
// one was there.
func restoreStem(s string) string {
	n := len(s)
	if n >= 3 && s[n-1] == s[n-2] && strings.ContainsRune(degeminate, rune(s[n-1])) {
		return s[:n-1]
	}
	// create/organize/execute/produce style endings
	for _, ending := range []string{"at", "iz", "ut", "uc"} {
		if strings.HasSuffix(s, ending) {
			return s + "e"
		}
	}
	// Short consonant-vowel-consonant stems had a final e (mak → make,
	// clos → close). w/x/y never double this way.
	if n >= 3 && n <= 4 && isConsonant(s[n-1]) && isVowel(s[n-2]) && isConsonant(s[n-3]) &&
		!strings.ContainsRune("wxy", rune(s[n-1])) {
		return s + "e"
	}
	return s
}

func esInsertionEnding(token string) bool {
	trimmed := strings.TrimSuffix(token, "es")
	for _, ending := range []string{"s", "x", "z", "o", "ch", "sh"} {
		if strings.HasSuffix(trimmed, ending) {
			return true
		}
	}
	return false
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isConsonant(c byte) bool {
	return c >= 'a' && c <= 'z' && !isVowel(c)
}
