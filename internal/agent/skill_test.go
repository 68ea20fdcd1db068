package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darbylab/darby/internal/capability"
)

func TestPlaceholderNames(t *testing.T) {
	text := "curl https://wttr.in/{{CITY}}\necho ${CITY} in {REGION}\nnot {lower} or {X y}"
	assert.Equal(t, []string{"CITY", "REGION"}, PlaceholderNames(text))
	assert.Empty(t, PlaceholderNames("no placeholders here"))
}

func TestSubstitutePlaceholders(t *testing.T) {
	values := map[string]string{"CITY": "New York", "FILE": "notes 2.txt"}

	t.Run("url line encodes spaces", func(t *testing.T) {
		out := SubstitutePlaceholders("curl -s https://wttr.in/{{CITY}}?format=3", values)
		assert.Equal(t, "curl -s https://wttr.in/New%20York?format=3", out)
	})

	t.Run("url command without scheme encodes spaces", func(t *testing.T) {
		out := SubstitutePlaceholders("curl wttr.in/${CITY}", values)
		assert.Equal(t, "curl wttr.in/New%20York", out)
	})

	t.Run("plain line keeps spaces", func(t *testing.T) {
		out := SubstitutePlaceholders(`cat "{FILE}"`, values)
		assert.Equal(t, `cat "notes 2.txt"`, out)
	})

	t.Run("mixed lines handled independently", func(t *testing.T) {
		out := SubstitutePlaceholders("echo {{CITY}}\nwget https://example.com/{{CITY}}", values)
		lines := strings.Split(out, "\n")
		assert.Equal(t, "echo New York", lines[0])
		assert.Equal(t, "wget https://example.com/New%20York", lines[1])
	})

	t.Run("unknown placeholder left alone", func(t *testing.T) {
		out := SubstitutePlaceholders("echo {{MISSING}}", values)
		assert.Equal(t, "echo {{MISSING}}", out)
	})
}

func TestRunSkillHappyPath(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"Paris",                            // extraction
			"echo \"Weather report for Paris\"", // plan
			"It is sunny in Paris.",            // format
		},
	}
	runner := New(model, nil)

	skill := capability.Skill{
		Name:         "weather-report",
		Description:  "Fetch the weather forecast for a city",
		Instructions: "echo \"Weather report for {{CITY}}\"",
	}

	answer, err := runner.RunSkill(context.Background(), "what's the weather in paris", skill)
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Paris.", answer)

	require.Len(t, model.calls, 3)
	assert.Contains(t, model.calls[0].prompt, "CITY")
	assert.Contains(t, model.calls[0].prompt, "weather-report")
	assert.Equal(t, "extraction", model.calls[0].purpose)
	assert.Contains(t, model.calls[0].instructions, "value only")

	assert.Contains(t, model.calls[1].prompt, "Weather report for Paris")
	assert.NotContains(t, model.calls[1].prompt, "{{CITY}}")
	assert.Contains(t, model.calls[1].instructions, "verbatim")

	assert.Contains(t, model.calls[2].prompt, "Weather report for Paris")
}

func TestRunSkillStripsQuotedValue(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"\"Paris\"",
			"echo Paris",
			"done",
		},
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "w", Instructions: "echo {{CITY}}"}
	_, err := runner.RunSkill(context.Background(), "weather in paris", skill)
	require.NoError(t, err)
	assert.Contains(t, model.calls[1].prompt, "echo Paris")
}

func TestRunSkillEmptyValueBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"  "},
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "weather-report", Instructions: "curl wttr.in/{{CITY}}"}
	_, err := runner.RunSkill(context.Background(), "weather please", skill)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
	assert.Contains(t, err.Error(), "CITY")
}

func TestRunSkillUnsubstitutedCommandBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"curl wttr.in/{CITY}"},
	}
	runner := New(model, nil)

	// The skill body has no placeholders, but the model hallucinates one
	// into the emitted command.
	skill := capability.Skill{Name: "status", Instructions: "echo ok"}
	_, err := runner.RunSkill(context.Background(), "status", skill)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
	assert.Contains(t, err.Error(), "unsubstituted")
}

func TestRunSkillDangerousCommandBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"sudo rm -rf /opt/old"},
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "cleanup", Instructions: "echo clean"}
	_, err := runner.RunSkill(context.Background(), "clean up", skill)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
}

func TestRunSkillSummarizesLargeIntermediateOutput(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"head -c 6000 < /dev/zero | tr '\\0' x", // plan
			"A long run of x characters.",           // format
		},
		summary: "6000 x characters in a row.",
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "noise", Instructions: "head -c 6000 < /dev/zero | tr '\\0' x"}
	answer, err := runner.RunSkill(context.Background(), "make noise", skill)
	require.NoError(t, err)
	assert.Equal(t, "A long run of x characters.", answer)

	require.Len(t, model.sumNotes, 1)
	assert.Contains(t, model.sumNotes[0], "noise")

	formatPrompt := model.calls[len(model.calls)-1].prompt
	assert.Contains(t, formatPrompt, "6000 x characters in a row.")
	assert.Less(t, len(formatPrompt), 2000)
}

func TestRunSkillOversizedTotalBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"head -c 25000 < /dev/zero | tr '\\0' x"},
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "flood", Instructions: "head -c 25000 < /dev/zero | tr '\\0' x"}
	_, err := runner.RunSkill(context.Background(), "flood", skill)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputTooLarge))
}

func TestRunSkillSummaryFailureTruncatesInstead(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"head -c 6000 < /dev/zero | tr '\\0' x",
			"formatted",
		},
		sumErr: errors.New("summarizer down"),
	}
	runner := New(model, nil)

	skill := capability.Skill{Name: "noise", Instructions: "echo noisy"}
	answer, err := runner.RunSkill(context.Background(), "make noise", skill)
	require.NoError(t, err)
	assert.Equal(t, "formatted", answer)

	formatPrompt := model.calls[len(model.calls)-1].prompt
	assert.LessOrEqual(t, strings.Count(formatPrompt, "x"), MaxOutputChars+100)
}
