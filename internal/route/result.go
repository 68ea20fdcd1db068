// Package route is the tiered router: every request escalates through
// instant answers, bash shortcuts, the cached category table, the native
// classifier, and finally the small model, stopping at the first tier that
// can serve it. Routing itself never fails; tiers that error fall through.
package route

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/darbylab/darby/internal/shell"
)

// Kind tags the route result variant.
type Kind int

const (
	// KindInstant is a generated answer with no side effects.
	KindInstant Kind = iota
	// KindBashShortcut is a single read-only command whose stdout answers
	// the request.
	KindBashShortcut
	// KindCached is a category match from the manifest (phrase scoring or
	// the native classifier).
	KindCached
	// KindClassified is a small-model classification, including the safe
	// default when no tier matched.
	KindClassified
)

// String returns the wire name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInstant:
		return "instant"
	case KindBashShortcut:
		return "bash_shortcut"
	case KindCached:
		return "cached"
	case KindClassified:
		return "classified"
	}
	return "unknown"
}

// Request complexity grades consumed by the agent selector.
const (
	ComplexityTrivial  = "trivial"
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Analysis is the agent-selector record attached to non-early-exit results.
type Analysis struct {
	Complexity      string `json:"complexity"`
	NeedsPlanning   bool   `json:"needs_planning"`
	NeedsReflection bool   `json:"needs_reflection"`
	EstimatedSteps  int    `json:"estimated_steps"`
}

// ErrNotResolvable is returned by Resolve on results that require an agent
// run instead of a direct answer.
var ErrNotResolvable = errors.New("route result requires an agent run")

// Result is the routing decision. Instant carries Answer; BashShortcut
// carries Command; Cached and Classified carry the category fields and the
// analysis record.
type Result struct {
	Kind       Kind     `json:"kind"`
	Input      string   `json:"input"`
	Answer     string   `json:"answer,omitempty"`
	Command    string   `json:"command,omitempty"`
	CategoryID string   `json:"category_id,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	AgentType  string   `json:"agent_type,omitempty"`
	PromptTier string   `json:"prompt_tier,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Analysis   Analysis `json:"analysis,omitempty"`

	runner *shell.Runner
}

// EarlyExit reports whether the result answers the request directly, with no
// agent involvement.
func (r Result) EarlyExit() bool {
	return r.Kind == KindInstant || r.Kind == KindBashShortcut
}

// Resolve produces the final answer for early-exit results. Instant returns
// its generated answer; BashShortcut runs its command and returns trimmed
// stdout, or a stderr-prefixed error on non-zero exit. Other kinds return
// ErrNotResolvable.
func (r Result) Resolve(ctx context.Context) (string, error) {
	switch r.Kind {
	case KindInstant:
		return r.Answer, nil
	case KindBashShortcut:
		runner := r.runner
		if runner == nil {
			runner = &shell.Runner{}
		}
		res := runner.Run(ctx, r.Command)
		if !res.Success {
			if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
				return "", fmt.Errorf("%s (command %q exited %d)", stderr, r.Command, res.ExitCode)
			}
		}
		return strings.TrimSpace(res.Stdout), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotResolvable, r.Kind)
	}
}
