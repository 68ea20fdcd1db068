package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/route"
	"github.com/darbylab/darby/internal/summarize"
)

type scriptedCall struct {
	prompt       string
	instructions string
	purpose      string
}

type fakeModel struct {
	available bool
	responses []string
	callErr   error
	summary   string
	sumErr    error
	calls     []scriptedCall
	sumNotes  []string
}

func (f *fakeModel) Call(_ context.Context, prompt string, _ int, purpose, instructions string) (string, error) {
	f.calls = append(f.calls, scriptedCall{prompt: prompt, instructions: instructions, purpose: purpose})
	if f.callErr != nil {
		return "", f.callErr
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeModel) Summarize(_ context.Context, _, contextNote string, _ int) (string, error) {
	f.sumNotes = append(f.sumNotes, contextNote)
	return f.summary, f.sumErr
}

func (f *fakeModel) IsAvailable(context.Context) bool { return f.available }

func TestEligible(t *testing.T) {
	model := &fakeModel{available: true}
	runner := New(model, nil)
	ctx := context.Background()

	simple := route.Analysis{Complexity: route.ComplexitySimple, EstimatedSteps: 1}

	tests := []struct {
		name string
		res  route.Result
		want bool
	}{
		{
			name: "shell and lookup simple",
			res: route.Result{
				Kind:     route.KindCached,
				Tools:    []string{capability.ToolShell, capability.ToolLookup},
				Analysis: simple,
			},
			want: true,
		},
		{
			name: "shell alone trivial",
			res: route.Result{
				Kind:     route.KindClassified,
				Tools:    []string{capability.ToolShell},
				Analysis: route.Analysis{Complexity: route.ComplexityTrivial, EstimatedSteps: 1},
			},
			want: true,
		},
		{
			name: "instant already answered",
			res:  route.Result{Kind: route.KindInstant, Answer: "hi", Analysis: simple},
			want: false,
		},
		{
			name: "extra tool disqualifies",
			res: route.Result{
				Kind:     route.KindCached,
				Tools:    []string{capability.ToolShell, capability.ToolWriteFile},
				Analysis: simple,
			},
			want: false,
		},
		{
			name: "no shell tool",
			res: route.Result{
				Kind:     route.KindCached,
				Tools:    []string{capability.ToolLookup},
				Analysis: simple,
			},
			want: false,
		},
		{
			name: "complex request",
			res: route.Result{
				Kind:     route.KindCached,
				Tools:    []string{capability.ToolShell},
				Analysis: route.Analysis{Complexity: route.ComplexityComplex, EstimatedSteps: 3},
			},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, runner.Eligible(ctx, tc.res))
		})
	}
}

func TestEligibleModelUnavailable(t *testing.T) {
	runner := New(&fakeModel{available: false}, nil)
	res := route.Result{
		Kind:     route.KindCached,
		Tools:    []string{capability.ToolShell},
		Analysis: route.Analysis{Complexity: route.ComplexitySimple, EstimatedSteps: 1},
	}
	assert.False(t, runner.Eligible(context.Background(), res))
}

func TestRunHappyPath(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"echo hello world",
			"The output is **hello world**.",
		},
	}
	runner := New(model, nil)

	answer, err := runner.Run(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "The output is **hello world**.", answer)

	require.Len(t, model.calls, 2)
	assert.Contains(t, model.calls[0].prompt, "say hello")
	assert.Contains(t, model.calls[0].instructions, "one per line, max 2")
	assert.Equal(t, "generation", model.calls[0].purpose)
	assert.Contains(t, model.calls[1].prompt, "$ echo hello world")
	assert.Contains(t, model.calls[1].prompt, "hello world")
}

func TestRunFormatFailureReturnsRawOutput(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"echo raw answer"},
	}
	runner := New(model, nil)

	answer, err := runner.Run(context.Background(), "say raw answer")
	require.NoError(t, err)
	assert.Equal(t, "$ echo raw answer\nraw answer", answer)
}

func TestRunDangerousCommandBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"sudo rm -rf /var/lib"},
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "clean up disk space")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
	assert.Contains(t, err.Error(), "dangerous")
}

func TestRunEmptyPlanBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"# no commands needed\n// just thoughts"},
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "do nothing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
}

func TestRunOversizedOutputBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"head -c 5000 < /dev/zero | tr '\\0' x"},
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "generate a lot of output")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputTooLarge))
	assert.True(t, errors.Is(err, ErrDelegate))
}

func TestRunFailingCommandBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{"echo oops >&2; exit 3"},
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "run something broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
	assert.Contains(t, err.Error(), "oops")
	assert.Contains(t, err.Error(), "exited 3")
}

func TestRunPlanningFailureBailsOut(t *testing.T) {
	model := &fakeModel{
		available: true,
		callErr:   errors.New("provider down"),
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelegate))
}

type fakeSummarizer struct {
	results []summarize.ToolResult
	out     string
}

func (f *fakeSummarizer) Process(_ context.Context, res summarize.ToolResult) string {
	f.results = append(f.results, res)
	if f.out != "" {
		return f.out
	}
	return res.Content
}

func TestRunRendersOutputThroughSummarizer(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"seq 1 50",
			"Numbers 1 through 50.",
		},
	}
	sum := &fakeSummarizer{out: "[Summarized: 141 → 14 chars] numbers 1..50"}
	runner := New(model, nil)
	runner.SetSummarizer(sum)

	answer, err := runner.Run(context.Background(), "count to fifty")
	require.NoError(t, err)
	assert.Equal(t, "Numbers 1 through 50.", answer)

	require.Len(t, sum.results, 1)
	assert.Equal(t, capability.ToolShell, sum.results[0].Tool)
	assert.Equal(t, "count to fifty", sum.results[0].Input)
	assert.Contains(t, sum.results[0].Content, "50")
	assert.False(t, sum.results[0].IsError)

	require.Len(t, model.calls, 2)
	formatPrompt := model.calls[1].prompt
	assert.Contains(t, formatPrompt, "$ seq 1 50")
	assert.Contains(t, formatPrompt, "numbers 1..50")
	assert.NotContains(t, formatPrompt, "\n49\n")
}

func TestRunCapsAtTwoCommands(t *testing.T) {
	model := &fakeModel{
		available: true,
		responses: []string{
			"1. echo one\n2. echo two\n3. echo three",
			"done",
		},
	}
	runner := New(model, nil)

	_, err := runner.Run(context.Background(), "count to three")
	require.NoError(t, err)

	require.Len(t, model.calls, 2)
	formatPrompt := model.calls[1].prompt
	assert.Contains(t, formatPrompt, "$ echo one")
	assert.Contains(t, formatPrompt, "$ echo two")
	assert.NotContains(t, formatPrompt, "echo three")
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain lines",
			raw:  "uptime\ndf -h",
			want: []string{"uptime", "df -h"},
		},
		{
			name: "numbered list",
			raw:  "1. date\n2) whoami",
			want: []string{"date", "whoami"},
		},
		{
			name: "bullets and backticks",
			raw:  "- `ls -la`\n* pwd",
			want: []string{"ls -la", "pwd"},
		},
		{
			name: "fenced block",
			raw:  "```bash\necho hi\n```",
			want: []string{"echo hi"},
		},
		{
			name: "comments dropped",
			raw:  "# list files\nls\n// check time\ndate",
			want: []string{"ls", "date"},
		},
		{
			name: "cap at two",
			raw:  "echo a\necho b\necho c",
			want: []string{"echo a", "echo b"},
		},
		{
			name: "think block stripped",
			raw:  "<think>maybe ls?</think>\nls",
			want: []string{"ls"},
		},
		{
			name: "blank response",
			raw:  "\n\n",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCommands(tc.raw))
		})
	}
}

func TestDangerous(t *testing.T) {
	dangerous := []string{
		"rm -rf /",
		"sudo rm /etc/passwd",
		"mkfs.ext4 /dev/sda1",
		":(){ :|:& };:",
		"dd if=/dev/urandom of=/dev/sda",
		"echo junk > /dev/sda",
		"chmod 777 /",
		"rm -rf --no-preserve-root /",
		"FORMAT C:",
	}
	for _, cmd := range dangerous {
		assert.True(t, Dangerous(cmd), "should refuse %q", cmd)
	}

	safe := []string{
		"ls -la",
		"rm notes.txt",
		"rm -rf ./build",
		"echo 'chmod 777 is bad' ",
		"df -h /",
		"grep -r formatting docs/",
	}
	for _, cmd := range safe {
		assert.False(t, Dangerous(cmd), "should allow %q", cmd)
	}
}

func TestDangerousIsCaseInsensitive(t *testing.T) {
	assert.True(t, Dangerous("SUDO RM -RF /tmp/x"))
	assert.True(t, Dangerous("MKFS.XFS /dev/sdb"))
}
