// Package watch turns external sources (mailboxes, calendars, message
// databases, logs, git remotes) into a stream of deduplicated events. Each
// watcher owns a persisted cursor so a daemon restart never replays what it
// already handled.
package watch

import (
	"context"
	"time"
)

// Event is one observation from a watcher's source. EventID must be stable
// within the watcher's namespace: the same (WatcherID, EventID) pair is never
// processed twice across restarts.
type Event struct {
	WatcherID string         `json:"watcher_id"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Watcher polls an external source. Poll receives the cursor persisted after
// the previous poll (nil on first run) and returns events in source order
// along with the cursor to persist. Poll may return events the daemon has
// already seen; the state store filters those out.
type Watcher interface {
	ID() string
	Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error)
}

// Sources holds the external paths watchers read from. An empty path leaves
// the corresponding watcher disabled.
type Sources struct {
	Maildir          string
	CalendarPath     string
	ChatDBPath       string
	NotificationsLog string
	RepoPath         string
}

// Build instantiates the requested watchers. An empty ids slice means every
// watcher with a configured source.
func Build(ids []string, src Sources) []Watcher {
	available := map[string]Watcher{}
	if src.Maildir != "" {
		available["mail"] = &MailWatcher{Maildir: src.Maildir}
	}
	if src.CalendarPath != "" {
		available["calendar"] = &CalendarWatcher{Path: src.CalendarPath}
	}
	if src.ChatDBPath != "" {
		available["messages"] = &MessagesWatcher{Path: src.ChatDBPath}
	}
	if src.NotificationsLog != "" {
		available["notifications"] = &NotificationsWatcher{Path: src.NotificationsLog}
	}
	if src.RepoPath != "" {
		available["repo"] = &RepoWatcher{Path: src.RepoPath}
	}

	if len(ids) == 0 {
		ids = []string{"mail", "calendar", "messages", "notifications", "repo"}
	}

	var watchers []Watcher
	for _, id := range ids {
		if w, ok := available[id]; ok {
			watchers = append(watchers, w)
		}
	}
	return watchers
}
