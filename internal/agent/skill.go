package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/llm"
)

// SkillMaxOutputChars is the combined output budget for skill runs. Skills
// routinely shell out to chatty tools, so the budget is wider and any single
// large stdout is summarized back under MaxOutputChars before formatting.
const SkillMaxOutputChars = 20000

const extractMaxTokens = 60

// placeholderRe matches the three accepted placeholder spellings:
// {{CITY}}, ${CITY}, {CITY}. Names are uppercase with underscores.
var placeholderRe = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}|\$\{([A-Z][A-Z0-9_]*)\}|\{([A-Z][A-Z0-9_]*)\}`)

// RunSkill executes a skill's instructions against the user's request:
// placeholders are filled with model-extracted values, the substituted
// procedure goes through the same plan/execute/format protocol, and any
// oversized intermediate stdout is summarized before formatting.
func (r *Runner) RunSkill(ctx context.Context, input string, skill capability.Skill) (string, error) {
	instructions, err := r.substitute(ctx, input, skill)
	if err != nil {
		return "", err
	}

	commands, err := r.planSkill(ctx, instructions, skill.Name)
	if err != nil {
		return "", err
	}

	results, err := r.execute(ctx, commands, SkillMaxOutputChars)
	if err != nil {
		return "", err
	}

	// Large individual outputs get squeezed back under the inline budget so
	// the format prompt stays small.
	for i := range results {
		if len(results[i].Stdout) <= MaxOutputChars {
			continue
		}
		note := fmt.Sprintf("stdout of %q while running the %s skill", results[i].Command, skill.Name)
		summary, serr := r.model.Summarize(ctx, results[i].Stdout, note, MaxOutputChars/4)
		if serr != nil || len(summary) >= len(results[i].Stdout) {
			results[i].Stdout = results[i].Stdout[:MaxOutputChars]
			continue
		}
		results[i].Stdout = summary
	}

	return r.format(ctx, input, results)
}

// substitute fills every placeholder in the skill body with a value pulled
// from the request. A placeholder that survives substitution is a hard stop.
func (r *Runner) substitute(ctx context.Context, input string, skill capability.Skill) (string, error) {
	names := PlaceholderNames(skill.Instructions)
	values := make(map[string]string, len(names))
	for _, name := range names {
		value, err := r.extractValue(ctx, input, name, skill.Name)
		if err != nil {
			return "", err
		}
		values[name] = value
	}

	substituted := SubstitutePlaceholders(skill.Instructions, values)
	if leftover := PlaceholderNames(substituted); len(leftover) > 0 {
		return "", fmt.Errorf("%w: skill %s has unresolved placeholders %v", ErrDelegate, skill.Name, leftover)
	}
	return substituted, nil
}

// extractValue asks the model for one parameter value.
func (r *Runner) extractValue(ctx context.Context, input, name, skillName string) (string, error) {
	raw, err := r.model.Call(ctx,
		fmt.Sprintf("Request: %q\n\nExtract the value for the %s parameter of the %s procedure.", input, name, skillName),
		extractMaxTokens,
		ledger.PurposeExtraction,
		"Reply with the value only. No quotes, no explanation.")
	if err != nil {
		return "", fmt.Errorf("%w: extracting %s failed: %v", ErrDelegate, name, err)
	}

	value := strings.TrimSpace(llm.StripThinkBlocks(raw))
	value = strings.Trim(value, `"'`)
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: no value for %s in the request", ErrDelegate, name)
	}
	log.Debug().Str("skill", skillName).Str("parameter", name).Str("value", value).Msg("Extracted skill parameter")
	return value, nil
}

// planSkill runs the plan step with the substituted procedure. The commands
// are already written; the model only needs to emit them.
func (r *Runner) planSkill(ctx context.Context, instructions, skillName string) ([]string, error) {
	raw, err := r.model.Call(ctx,
		fmt.Sprintf("Procedure:\n%s", instructions),
		planMaxTokens,
		ledger.PurposeGeneration,
		"The commands are already filled in. Output them verbatim, one per line, max 2. No explanations.")
	if err != nil {
		return nil, fmt.Errorf("%w: planning skill %s failed: %v", ErrDelegate, skillName, err)
	}

	commands := ParseCommands(raw)
	if len(commands) == 0 {
		return nil, fmt.Errorf("%w: skill %s produced no usable commands", ErrDelegate, skillName)
	}
	for _, cmd := range commands {
		if placeholderRe.MatchString(cmd) {
			return nil, fmt.Errorf("%w: skill %s emitted an unsubstituted command %q", ErrDelegate, skillName, cmd)
		}
		if Dangerous(cmd) {
			return nil, fmt.Errorf("%w: refused dangerous command %q", ErrDelegate, cmd)
		}
	}
	return commands, nil
}

// PlaceholderNames returns the distinct placeholder names in text, sorted.
func PlaceholderNames(text string) []string {
	seen := make(map[string]bool)
	for _, match := range placeholderRe.FindAllStringSubmatch(text, -1) {
		for _, group := range match[1:] {
			if group != "" {
				seen[group] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubstitutePlaceholders replaces every placeholder with its value,
// line by line. Values landing in a URL context get their spaces
// percent-encoded so the command stays a single argument.
func SubstitutePlaceholders(text string, values map[string]string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		encode := urlContext(line)
		lines[i] = placeholderRe.ReplaceAllStringFunc(line, func(match string) string {
			name := strings.Trim(match, "{}$")
			value, ok := values[name]
			if !ok {
				return match
			}
			if encode {
				return strings.ReplaceAll(value, " ", "%20")
			}
			return value
		})
	}
	return strings.Join(lines, "\n")
}

// urlCommands are commands whose arguments are usually URLs.
var urlCommands = map[string]bool{
	"curl":     true,
	"wget":     true,
	"open":     true,
	"xdg-open": true,
}

// urlContext reports whether placeholders on this line feed a URL.
func urlContext(line string) bool {
	if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
		return true
	}
	fields := strings.Fields(line)
	return len(fields) > 0 && urlCommands[fields[0]]
}
