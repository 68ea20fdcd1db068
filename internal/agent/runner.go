// Package agent is the on-device fast path: for simple shell-only requests
// it asks the small model for at most two bash commands, runs them, and asks
// the model to format the outputs as the answer. Anything bigger bails out
// to the full agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/route"
	"github.com/darbylab/darby/internal/shell"
	"github.com/darbylab/darby/internal/summarize"
)

var (
	// ErrDelegate means the fast path cannot finish this task; the caller
	// should hand it to the full agent.
	ErrDelegate = errors.New("task requires the full agent")

	// ErrOutputTooLarge is a bail-out caused by command output exceeding the
	// inline budget.
	ErrOutputTooLarge = fmt.Errorf("%w: command output too large", ErrDelegate)
)

const (
	// MaxOutputChars bounds the combined command output the fast path will
	// format inline.
	MaxOutputChars = 4000

	maxCommands     = 2
	planMaxTokens   = 200
	formatMaxTokens = 600
)

// Model is the slice of the small-model client the agent needs.
type Model interface {
	Call(ctx context.Context, prompt string, maxTokens int, purpose, instructions string) (string, error)
	Summarize(ctx context.Context, content, contextNote string, maxTokens int) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Summarizer condenses oversized tool output before it enters a model prompt.
type Summarizer interface {
	Process(ctx context.Context, res summarize.ToolResult) string
}

// Runner executes the two-step plan/execute/format protocol.
type Runner struct {
	model      Model
	shell      *shell.Runner
	summarizer Summarizer
}

// New creates a runner. A nil shell runner gets defaults.
func New(model Model, sh *shell.Runner) *Runner {
	if sh == nil {
		sh = &shell.Runner{}
	}
	return &Runner{model: model, shell: sh}
}

// SetSummarizer routes command output through s before formatting. A nil
// summarizer means raw output goes into the format prompt.
func (r *Runner) SetSummarizer(s Summarizer) {
	r.summarizer = s
}

// Eligible reports whether a route result can take the fast path: the model
// answers, the tool set is the shell tool alone or shell plus capability
// lookup, and the request is trivial or simple.
func (r *Runner) Eligible(ctx context.Context, res route.Result) bool {
	if res.EarlyExit() {
		return false
	}
	if r.model == nil || !r.model.IsAvailable(ctx) {
		return false
	}

	switch res.Analysis.Complexity {
	case route.ComplexityTrivial, route.ComplexitySimple:
	default:
		return false
	}

	hasShell := false
	for _, tool := range res.Tools {
		switch tool {
		case capability.ToolShell:
			hasShell = true
		case capability.ToolLookup:
		default:
			return false
		}
	}
	return hasShell
}

// Run answers input through plan, execute, format. It returns ErrDelegate
// (possibly wrapped) whenever the task turns out to be bigger than the fast
// path allows.
func (r *Runner) Run(ctx context.Context, input string) (string, error) {
	commands, err := r.plan(ctx, input)
	if err != nil {
		return "", err
	}

	results, err := r.execute(ctx, commands, MaxOutputChars)
	if err != nil {
		return "", err
	}

	return r.format(ctx, input, results)
}

// plan asks the model for the commands and parses its answer.
func (r *Runner) plan(ctx context.Context, input string) ([]string, error) {
	raw, err := r.model.Call(ctx,
		fmt.Sprintf("Request: %s\n\nWhat bash commands answer this request?", input),
		planMaxTokens,
		ledger.PurposeGeneration,
		"Output only bash commands, one per line, max 2. No explanations, no markdown.")
	if err != nil {
		return nil, fmt.Errorf("%w: planning failed: %v", ErrDelegate, err)
	}

	commands := ParseCommands(raw)
	if len(commands) == 0 {
		return nil, fmt.Errorf("%w: model produced no usable commands", ErrDelegate)
	}
	for _, cmd := range commands {
		if Dangerous(cmd) {
			return nil, fmt.Errorf("%w: refused dangerous command %q", ErrDelegate, cmd)
		}
	}
	return commands, nil
}

// execute runs the planned commands, bailing out on oversized output or a
// failing command that wrote to stderr.
func (r *Runner) execute(ctx context.Context, commands []string, maxOutput int) ([]shell.Result, error) {
	results := make([]shell.Result, 0, len(commands))
	total := 0
	for _, cmd := range commands {
		res := r.shell.Run(ctx, cmd)
		log.Debug().Str("command", cmd).Int("exit_code", res.ExitCode).Msg("Fast path executed command")

		total += len(res.Stdout) + len(res.Stderr)
		if total > maxOutput {
			return nil, fmt.Errorf("%w (%d chars)", ErrOutputTooLarge, total)
		}
		if !res.Success && strings.TrimSpace(res.Stderr) != "" {
			return nil, fmt.Errorf("%w: command %q exited %d: %s", ErrDelegate, cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		results = append(results, res)
	}
	return results, nil
}

// format turns command output into the user-facing answer. If the model
// fails here the rendered output is still returned; the commands already ran.
func (r *Runner) format(ctx context.Context, input string, results []shell.Result) (string, error) {
	var b strings.Builder
	for _, res := range results {
		body := r.contextReady(ctx, input, res)
		fmt.Fprintf(&b, "$ %s\n%s", res.Command, body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	raw := strings.TrimRight(b.String(), "\n")

	answer, err := r.model.Call(ctx,
		fmt.Sprintf("The user asked: %s\n\nCommand output:\n%s\n\nWrite the answer for the user.", input, raw),
		formatMaxTokens,
		ledger.PurposeGeneration,
		"Answer directly from the output. Use markdown where it helps. Preserve numbers, paths, and key data exactly. Do not invent information.")
	if err != nil {
		log.Warn().Err(err).Msg("Answer formatting failed; returning raw output")
		return raw, nil
	}
	return llm.StripThinkBlocks(answer), nil
}

// contextReady returns the stdout form that enters the format prompt. The
// command and exit state stay verbatim in the surrounding block; only the
// output itself is condensed.
func (r *Runner) contextReady(ctx context.Context, input string, res shell.Result) string {
	if r.summarizer == nil {
		return res.Stdout
	}
	return r.summarizer.Process(ctx, summarize.ToolResult{
		Tool:    capability.ToolShell,
		Input:   input,
		Content: res.Stdout,
		IsError: !res.Success,
	})
}

// ParseCommands extracts bash commands from a model response: fences and
// think blocks go, numbering and bullets are stripped, comment lines are
// dropped, and at most two commands survive.
func ParseCommands(raw string) []string {
	raw = llm.StripFences(llm.StripThinkBlocks(raw))

	var commands []string
	for _, line := range strings.Split(raw, "\n") {
		line = stripBullet(strings.TrimSpace(line))
		line = strings.TrimSpace(strings.Trim(line, "`"))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		commands = append(commands, line)
		if len(commands) == maxCommands {
			break
		}
	}
	return commands
}

// stripBullet removes leading list markers: "1.", "2)", "-", "*", "•".
func stripBullet(line string) string {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return strings.TrimSpace(line[2:])
	}

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

// dangerPatterns is the fixed blocklist. Substring match against the
// lowercased command.
var dangerPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"rm -fr /",
	"rm -rf --no-preserve-root",
	"--no-preserve-root",
	"sudo rm",
	"mkfs",
	":(){",
	":() {",
	"of=/dev/",
	"> /dev/sd",
	">/dev/sd",
	"chmod 777 /",
	"chmod -r 777 /",
}

// Dangerous reports whether a command hits the blocklist. The list favors
// false positives: a refused command bails out to the full agent, which can
// reason about it properly.
func Dangerous(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range dangerPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	if lower == "format" || strings.HasPrefix(lower, "format ") {
		return true
	}
	return false
}
