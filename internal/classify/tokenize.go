package classify

import "strings"

// Function words only. Action verbs stay: "create", "delete", "send" carry
// the intent signal this classifier runs on.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "am": true,
	"do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true,
	"can": true, "could": true, "should": true, "would": true,
	"will": true, "shall": true, "may": true, "might": true, "must": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"for": true, "with": true, "from": true, "as": true, "into": true,
	"it": true, "its": true, "this": true, "that": true, "these": true, "those": true,
	"i": true, "me": true, "my": true, "mine": true,
	"you": true, "your": true, "yours": true,
	"he": true, "him": true, "his": true, "she": true, "her": true, "hers": true,
	"they": true, "them": true, "their": true, "theirs": true,
	"we": true, "us": true, "our": true, "ours": true,
	"what": true, "which": true, "who": true, "whom": true, "whose": true,
	"when": true, "where": true, "why": true, "how": true,
	"and": true, "or": true, "but": true, "not": true, "no": true,
	"if": true, "then": true, "else": true, "so": true, "than": true,
	"too": true, "very": true, "just": true, "about": true,
	"there": true, "here": true, "please": true,
	"all": true, "any": true, "some": true, "each": true,
}

// tokenize lowercases, splits on non-alphanumerics, drops stop words and
// single-character tokens.
func tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			token := strings.ToLower(b.String())
			if !stopWords[token] {
				tokens = append(tokens, token)
			}
		}
		b.Reset()
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// canonicalTokens tokenizes and maps every token to its canonical form via
// the synonym table and stemmer.
func canonicalTokens(s string) []string {
	raw := tokenize(s)
	out := make([]string, len(raw))
	for i, t := range raw {
		out[i] = canonical(t)
	}
	return out
}

func canonicalSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range canonicalTokens(s) {
		set[t] = true
	}
	return set
}
