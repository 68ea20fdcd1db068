// Package capability tracks what the agent can currently do: the built-in
// tools and the skills dropped into the skills directory. The router and the
// manifest store both read from here.
package capability

import (
	"sort"
	"strings"
	"sync"
)

// Built-in tool names. The router guarantees ToolShell and ToolLookup appear
// in every non-instant route.
const (
	ToolShell      = "run_shell"
	ToolLookup     = "lookup_capability"
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolFetchURL   = "fetch_url"
	ToolCredential = "get_credential"
)

// builtinTools maps tool name to a short description. Implementations beyond
// the shell executor live in the interactive layer; the core only needs the
// index for routing and the capabilities answer.
var builtinTools = map[string]string{
	ToolShell:      "Execute a shell command and capture stdout, stderr, and exit code",
	ToolLookup:     "List the tools and skills currently available",
	ToolReadFile:   "Read the contents of a file",
	ToolWriteFile:  "Write or create a file",
	ToolFetchURL:   "Fetch the contents of a URL",
	ToolCredential: "Look up a named credential from the external keystore",
}

// Skill is a reusable procedure loaded from the skills directory.
type Skill struct {
	Name         string
	Description  string
	Instructions string
	Path         string
}

// Snapshot is an immutable view handed to the manifest store.
type Snapshot struct {
	Tools  map[string]string
	Skills map[string]string
}

// Registry holds the current tool and skill inventory.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]string
	skills map[string]Skill
}

// NewRegistry creates a registry seeded with the built-in tools.
func NewRegistry() *Registry {
	tools := make(map[string]string, len(builtinTools))
	for name, desc := range builtinTools {
		tools[name] = desc
	}
	return &Registry{
		tools:  tools,
		skills: make(map[string]Skill),
	}
}

// RegisterTool adds or replaces a tool description.
func (r *Registry) RegisterTool(name, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = description
}

// Tools returns the tool index, copied.
func (r *Registry) Tools() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

// Skill returns a skill by name.
func (r *Registry) Skill(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Skills returns all skills sorted by name.
func (r *Registry) Skills() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the tool and skill indexes for manifest generation.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Tools:  make(map[string]string, len(r.tools)),
		Skills: make(map[string]string, len(r.skills)),
	}
	for k, v := range r.tools {
		snap.Tools[k] = v
	}
	for k, s := range r.skills {
		snap.Skills[k] = s.Description
	}
	return snap
}

// Resolution scoring: a skill matches when the input shares enough vocabulary
// with its name and description. Name tokens weigh more than description
// tokens.
const (
	nameTokenWeight = 2.0
	descTokenWeight = 0.5

	// ResolveThreshold is the minimum score for a skill to be considered a
	// match for an input.
	ResolveThreshold = 2.0
)

// Resolve returns the names of skills whose metadata matches the input at or
// above ResolveThreshold, best first.
func (r *Registry) Resolve(input string) []string {
	inputTokens := tokenSet(input)
	if len(inputTokens) == 0 {
		return nil
	}

	type scored struct {
		name  string
		score float64
	}

	r.mu.RLock()
	candidates := make([]scored, 0, len(r.skills))
	for name, skill := range r.skills {
		score := 0.0
		for token := range tokenSet(strings.ReplaceAll(name, "-", " ")) {
			if inputTokens[token] {
				score += nameTokenWeight
			}
		}
		for token := range tokenSet(skill.Description) {
			if inputTokens[token] {
				score += descTokenWeight
			}
		}
		if score >= ResolveThreshold {
			candidates = append(candidates, scored{name: name, score: score})
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].score > candidates[j].score
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			out[strings.ToLower(b.String())] = true
		}
		b.Reset()
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
