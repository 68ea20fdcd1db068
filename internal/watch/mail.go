package watch

import (
	"context"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MailWatcher polls a maildir for new messages. Maildir filenames begin with
// a delivery timestamp, so lexicographic order tracks arrival order; the
// cursor is the last filename handed off.
type MailWatcher struct {
	Maildir string
}

func (w *MailWatcher) ID() string { return "mail" }

func (w *MailWatcher) Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error) {
	dir := filepath.Join(w.Maildir, "new")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	last := string(cursor)
	var events []Event
	for _, name := range names {
		if name <= last {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, cursor, err
		}

		ev := Event{
			WatcherID: w.ID(),
			EventID:   name,
			Timestamp: time.Now(),
			Payload:   map[string]any{"file": name},
		}
		w.readHeaders(filepath.Join(dir, name), &ev)
		events = append(events, ev)
		last = name
	}

	if last == "" {
		return events, cursor, nil
	}
	return events, []byte(last), nil
}

// readHeaders fills sender, subject, and date from the message file. Parse
// failures leave the event with just the filename; the event still flows.
func (w *MailWatcher) readHeaders(path string, ev *Event) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return
	}
	if from := msg.Header.Get("From"); from != "" {
		ev.Payload["from"] = from
	}
	if subject := msg.Header.Get("Subject"); subject != "" {
		ev.Payload["subject"] = subject
	}
	if date, err := msg.Header.Date(); err == nil {
		ev.Timestamp = date
		ev.Payload["date"] = date.Format(time.RFC3339)
	}
}
