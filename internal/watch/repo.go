package watch

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RepoWatcher surfaces new upstream commits. Each poll fetches (when a
// remote exists), resolves the tip, and emits one event per commit between
// the cursor and the tip. The cursor is the last-seen commit hash; a rewritten
// history re-baselines instead of erroring.
type RepoWatcher struct {
	Path string
}

func (w *RepoWatcher) ID() string { return "repo" }

func (w *RepoWatcher) Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error) {
	if remotes, err := w.git(ctx, "remote"); err == nil && strings.TrimSpace(remotes) != "" {
		if _, err := w.git(ctx, "fetch", "--quiet"); err != nil {
			log.Debug().Err(err).Str("repo", w.Path).Msg("Fetch failed; reading local refs")
		}
	}

	head, err := w.resolveTip(ctx)
	if err != nil {
		return nil, cursor, err
	}

	last := strings.TrimSpace(string(cursor))
	if last == "" || last == head {
		return nil, []byte(head), nil
	}

	out, err := w.git(ctx, "log", "--reverse", "--format=%H\x1f%an\x1f%ct\x1f%s", last+".."+head)
	if err != nil {
		// The cursor commit no longer exists (force push, gc). Baseline to
		// the current tip rather than failing every poll.
		log.Warn().Str("repo", w.Path).Str("cursor", last).Msg("Cursor commit unreachable; re-baselining")
		return nil, []byte(head), nil
	}

	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.SplitN(line, "\x1f", 4)
		if len(fields) != 4 || fields[0] == "" {
			continue
		}
		ts := time.Now()
		if secs, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			ts = time.Unix(secs, 0)
		}
		events = append(events, Event{
			WatcherID: w.ID(),
			EventID:   fields[0],
			Timestamp: ts,
			Payload: map[string]any{
				"commit":  fields[0],
				"author":  fields[1],
				"subject": fields[3],
				"repo":    w.Path,
			},
		})
	}
	return events, []byte(head), nil
}

// resolveTip prefers the upstream of the current branch, then origin/HEAD,
// then the local HEAD (useful for repos without remotes).
func (w *RepoWatcher) resolveTip(ctx context.Context) (string, error) {
	var lastErr error
	for _, ref := range []string{"@{upstream}", "origin/HEAD", "HEAD"} {
		out, err := w.git(ctx, "rev-parse", ref)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (w *RepoWatcher) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", w.Path}, args...)...)
	out, err := cmd.Output()
	return string(out), err
}
