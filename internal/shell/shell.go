// Package shell executes single commands through bash with bounded runtime
// and guaranteed child cleanup. Commands run in their own process group so a
// timeout kills the whole tree, not just the shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout bounds a command unless the caller says otherwise.
	DefaultTimeout = 60 * time.Second

	// OsascriptTimeout is the tighter bound for AppleScript-style calls,
	// which hang rather than fail when a dialog steals focus.
	OsascriptTimeout = 30 * time.Second

	// ExitTimeout is the conventional timed-out exit code.
	ExitTimeout = 124

	// killGrace is how long a process group gets between SIGTERM and
	// SIGKILL.
	killGrace = 2 * time.Second
)

// Result captures one command execution.
type Result struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Success    bool   `json:"success"`
	WorkingDir string `json:"working_directory,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// Runner executes commands. The zero value uses the default timeout and the
// process working directory.
type Runner struct {
	Timeout    time.Duration
	WorkingDir string
}

// TimeoutFor picks the per-command bound: osascript-style calls get the
// tighter one.
func (r *Runner) TimeoutFor(command string) time.Duration {
	if strings.Contains(command, "osascript") {
		return OsascriptTimeout
	}
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Run executes command via bash -c, capturing stdout, stderr, and the exit
// code. The context bounds the run on top of the per-command timeout; on
// deadline the process group receives SIGTERM, then SIGKILL after grace, and
// the result reports exit code 124 with a timeout marker in stderr.
func (r *Runner) Run(ctx context.Context, command string) Result {
	timeout := r.TimeoutFor(command)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := Result{Command: command, WorkingDir: r.WorkingDir}

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = r.WorkingDir
	// New process group: children die with the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		result.ExitCode = 127
		result.Stderr = err.Error()
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		terminateGroup(cmd.Process.Pid)
		waitErr = <-done
		result.TimedOut = true
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.DurationMS = time.Since(start).Milliseconds()

	switch {
	case result.TimedOut:
		result.ExitCode = ExitTimeout
		marker := "command timed out after " + timeout.String()
		if result.Stderr != "" {
			result.Stderr = marker + "\n" + result.Stderr
		} else {
			result.Stderr = marker
		}
	case waitErr == nil:
		result.Success = true
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			if result.Stderr == "" {
				result.Stderr = waitErr.Error()
			}
		}
	}
	return result
}

// terminateGroup sends SIGTERM to the process group, escalating to SIGKILL
// after the grace period if anything survives.
func terminateGroup(pid int) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		log.Debug().Err(err).Int("pgid", pgid).Msg("SIGTERM to process group failed")
	}

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		// Signal 0 probes liveness.
		if err := unix.Kill(-pgid, 0); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Debug().Err(err).Int("pgid", pgid).Msg("SIGKILL to process group failed")
	}
}
