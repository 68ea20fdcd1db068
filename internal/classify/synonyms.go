package classify

// synonymGroups maps a canonical term to its alternatives. The table is
// bidirectional at lookup time: canonical and every alternative resolve to
// the canonical key.
var synonymGroups = map[string][]string{
	"create":  {"make", "build", "generate", "new", "add", "compose"},
	"delete":  {"remove", "erase", "trash", "discard", "clear"},
	"show":    {"display", "list", "view", "print"},
	"find":    {"search", "locate", "lookup", "query"},
	"fetch":   {"download", "retrieve", "pull"},
	"update":  {"change", "modify", "edit", "revise", "rename"},
	"run":     {"execute", "launch", "invoke"},
	"start":   {"begin", "resume"},
	"stop":    {"halt", "pause", "cancel", "kill"},
	"check":   {"verify", "inspect", "confirm"},
	"folder":  {"directory", "dir"},
	"file":    {"document"},
	"message": {"sms", "text", "imessage", "texts"},
	"email":   {"mail", "inbox", "gmail"},
	"event":   {"meeting", "appointment"},
	"task":    {"todo", "chore"},
	"note":    {"memo", "notes"},
	"picture": {"photo", "image", "img"},
	"weather": {"forecast"},
	"remind":  {"reminder"},
	"phone":   {"iphone", "mobile", "cell"},
	"song":    {"music", "track", "audio"},
}

// synonyms is the flattened lookup built from synonymGroups.
var synonyms = func() map[string]string {
	m := make(map[string]string, len(synonymGroups)*4)
	for canon, alts := range synonymGroups {
		m[canon] = canon
		for _, alt := range alts {
			m[alt] = canon
		}
	}
	return m
}()

// canonical maps a token to its canonical form: synonym table first, then
// the stemmed form, then the synonym table again on the stem.
func canonical(token string) string {
	if canon, ok := synonyms[token]; ok {
		return canon
	}
	stemmed := stem(token)
	if canon, ok := synonyms[stemmed]; ok {
		return canon
	}
	return stemmed
}
