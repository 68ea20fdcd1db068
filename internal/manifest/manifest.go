// Package manifest owns the routing manifest: the versioned document mapping
// intent patterns to tool/skill bundles. Single writer; every mutation is
// persisted atomically before the call returns.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
)

// Agent orchestration styles a category can request.
const (
	AgentReact       = "react"
	AgentPlanExecute = "plan-execute"
	AgentReflection  = "reflection"
)

// System-prompt verbosity tiers.
const (
	TierMinimal  = "minimal"
	TierStandard = "standard"
	TierFull     = "full"
)

// ErrNotLoaded indicates the manifest file is absent or malformed; the router
// falls back to built-in defaults until one is generated.
var ErrNotLoaded = errors.New("manifest not loaded")

// Category bundles intent patterns with the tools, skills, and agent
// configuration needed to serve them.
type Category struct {
	ID         string   `json:"id"`
	Patterns   []string `json:"patterns"`
	Tools      []string `json:"tools"`
	Skills     []string `json:"skills"`
	AgentType  string   `json:"agent_type"`
	PromptTier string   `json:"prompt_tier"`
}

// Manifest is the on-disk document. Field order follows the canonical layout.
type Manifest struct {
	Version        int               `json:"version"`
	GeneratedAt    time.Time         `json:"generated_at"`
	InstantAnswers map[string]string `json:"instant_answers"`
	BashCommands   map[string]string `json:"bash_commands"`
	Categories     []Category        `json:"categories"`
	ToolIndex      map[string]string `json:"tool_index"`
	SkillIndex     map[string]string `json:"skill_index"`
}

// Store is the single writer for the manifest file.
type Store struct {
	mu       sync.RWMutex
	path     string
	manifest *Manifest
}

// NewStore creates a store persisting at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the manifest file. Returns ErrNotLoaded when the file
// is absent or malformed.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotLoaded
		}
		return fmt.Errorf("read manifest %s: %w", s.path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Manifest file is malformed; ignoring it")
		return ErrNotLoaded
	}

	normalize(&m)
	s.manifest = &m
	return nil
}

// Loaded reports whether an in-memory manifest exists.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest != nil
}

// Manifest returns a deep copy of the current document, or nil when not
// loaded. Callers can read it without holding the store's lock.
func (s *Store) Manifest() *Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return nil
	}
	return s.manifest.clone()
}

// Version returns the current version, 0 when not loaded.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return 0
	}
	return s.manifest.Version
}

// Save increments the version and writes the document atomically: temp file
// in the same directory, then rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.manifest == nil {
		return ErrNotLoaded
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	s.manifest.Version++
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		s.manifest.Version--
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.manifest.Version--
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		s.manifest.Version--
		return fmt.Errorf("rename manifest file: %w", err)
	}
	return nil
}

// IsStale reports whether any live tool or skill is missing from the indexes.
func (s *Store) IsStale(caps capability.Snapshot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.manifest == nil {
		return true
	}
	for name := range caps.Tools {
		if _, ok := s.manifest.ToolIndex[name]; !ok {
			return true
		}
	}
	for name := range caps.Skills {
		if _, ok := s.manifest.SkillIndex[name]; !ok {
			return true
		}
	}
	return false
}

// Sync appends missing tools and skills to the indexes and tries to assign
// each new skill to an existing category by keyword overlap (two or more term
// matches against the category's patterns or id). Saves only when something
// changed. Returns whether a save happened.
func (s *Store) Sync(caps capability.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return false, ErrNotLoaded
	}

	changed := false
	for name, desc := range caps.Tools {
		if _, ok := s.manifest.ToolIndex[name]; !ok {
			s.manifest.ToolIndex[name] = desc
			changed = true
		}
	}

	newSkills := make([]string, 0)
	for name := range caps.Skills {
		if _, ok := s.manifest.SkillIndex[name]; !ok {
			newSkills = append(newSkills, name)
		}
	}
	sort.Strings(newSkills)

	for _, name := range newSkills {
		s.manifest.SkillIndex[name] = caps.Skills[name]
		changed = true
		if idx := s.assignCategoryLocked(name, caps.Skills[name]); idx >= 0 {
			cat := &s.manifest.Categories[idx]
			cat.Skills = append(cat.Skills, name)
			log.Debug().Str("skill", name).Str("category", cat.ID).Msg("Assigned new skill to category")
		}
	}

	if !changed {
		return false, nil
	}
	return true, s.saveLocked()
}

// assignCategoryLocked finds the first category sharing at least two keyword
// terms with the skill's name and description. Returns -1 when none match.
func (s *Store) assignCategoryLocked(name, description string) int {
	skillTerms := keywordTerms(strings.ReplaceAll(name, "-", " ") + " " + description)
	if len(skillTerms) < 2 {
		return -1
	}

	for i, cat := range s.manifest.Categories {
		catTerms := keywordTerms(strings.ReplaceAll(cat.ID, "_", " ") + " " + strings.Join(cat.Patterns, " "))
		matches := 0
		for term := range skillTerms {
			if catTerms[term] {
				matches++
				if matches >= 2 {
					return i
				}
			}
		}
	}
	return -1
}

// AppendSkill adds a skill to the index and persists.
func (s *Store) AppendSkill(name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return ErrNotLoaded
	}
	s.manifest.SkillIndex[name] = description
	if idx := s.assignCategoryLocked(name, description); idx >= 0 {
		s.manifest.Categories[idx].Skills = append(s.manifest.Categories[idx].Skills, name)
	}
	return s.saveLocked()
}

// AppendTool adds a tool to the index and persists.
func (s *Store) AppendTool(name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return ErrNotLoaded
	}
	s.manifest.ToolIndex[name] = description
	return s.saveLocked()
}

// AppendBashCommand adds a Tier-1 shortcut and persists.
func (s *Store) AppendBashCommand(pattern, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return ErrNotLoaded
	}
	s.manifest.BashCommands[strings.ToLower(pattern)] = command
	return s.saveLocked()
}

func (m *Manifest) clone() *Manifest {
	out := &Manifest{
		Version:        m.Version,
		GeneratedAt:    m.GeneratedAt,
		InstantAnswers: copyMap(m.InstantAnswers),
		BashCommands:   copyMap(m.BashCommands),
		ToolIndex:      copyMap(m.ToolIndex),
		SkillIndex:     copyMap(m.SkillIndex),
		Categories:     make([]Category, len(m.Categories)),
	}
	for i, c := range m.Categories {
		out.Categories[i] = Category{
			ID:         c.ID,
			Patterns:   append([]string(nil), c.Patterns...),
			Tools:      append([]string(nil), c.Tools...),
			Skills:     append([]string(nil), c.Skills...),
			AgentType:  c.AgentType,
			PromptTier: c.PromptTier,
		}
	}
	return out
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// normalize repairs nil maps and enforces the category tool invariant after
// parsing external data.
func normalize(m *Manifest) {
	if m.InstantAnswers == nil {
		m.InstantAnswers = make(map[string]string)
	}
	if m.BashCommands == nil {
		m.BashCommands = make(map[string]string)
	}
	if m.ToolIndex == nil {
		m.ToolIndex = make(map[string]string)
	}
	if m.SkillIndex == nil {
		m.SkillIndex = make(map[string]string)
	}
	for i := range m.Categories {
		cat := &m.Categories[i]
		cat.ID = strings.ToLower(strings.TrimSpace(cat.ID))
		for j, p := range cat.Patterns {
			cat.Patterns[j] = strings.ToLower(strings.TrimSpace(p))
		}
		cat.Tools = EnsureCoreTools(cat.Tools)
		if !validAgentType(cat.AgentType) {
			cat.AgentType = AgentReact
		}
		if !validPromptTier(cat.PromptTier) {
			cat.PromptTier = TierStandard
		}
	}
}

// EnsureCoreTools returns tools deduplicated, with the shell tool first and
// the capability-lookup tool last, preserving the rest in order.
func EnsureCoreTools(tools []string) []string {
	out := make([]string, 0, len(tools)+2)
	out = append(out, capability.ToolShell)
	seen := map[string]bool{capability.ToolShell: true, capability.ToolLookup: true}
	for _, t := range tools {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return append(out, capability.ToolLookup)
}

func validAgentType(s string) bool {
	switch s {
	case AgentReact, AgentPlanExecute, AgentReflection:
		return true
	}
	return false
}

func validPromptTier(s string) bool {
	switch s {
	case TierMinimal, TierStandard, TierFull:
		return true
	}
	return false
}

// keywordTerms tokenizes for the sync overlap test: lowercase alphanumeric
// terms of length two or more.
func keywordTerms(s string) map[string]bool {
	terms := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			terms[strings.ToLower(b.String())] = true
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
	return terms
}
