package watch

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"time"
)

// DefaultLookAhead is how far into the future the calendar watcher surfaces
// events.
const DefaultLookAhead = 24 * time.Hour

// CalendarWatcher polls an iCalendar file for events starting within the
// look-ahead window. The cursor is a hash of the upcoming set, so an
// unchanged calendar costs one file read and no event traffic.
type CalendarWatcher struct {
	Path      string
	LookAhead time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func (w *CalendarWatcher) ID() string { return "calendar" }

func (w *CalendarWatcher) Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, err
	}
	defer f.Close()

	entries, err := parseICS(f)
	if err != nil {
		return nil, cursor, err
	}

	nowFn := w.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()
	ahead := w.LookAhead
	if ahead <= 0 {
		ahead = DefaultLookAhead
	}

	var events []Event
	digest := sha256.New()
	for _, entry := range entries {
		if entry.Start.Before(now) || entry.Start.After(now.Add(ahead)) {
			continue
		}
		id := entry.UID + "@" + entry.Start.UTC().Format(time.RFC3339)
		digest.Write([]byte(id))
		events = append(events, Event{
			WatcherID: w.ID(),
			EventID:   id,
			Timestamp: now,
			Payload: map[string]any{
				"summary":  entry.Summary,
				"start":    entry.Start.Format(time.RFC3339),
				"location": entry.Location,
			},
		})
	}

	newCursor := []byte(hex.EncodeToString(digest.Sum(nil)))
	if len(events) == 0 || string(cursor) == string(newCursor) {
		// Same upcoming set as last poll; the seen-set would drop these
		// anyway, so skip the traffic.
		return nil, newCursor, nil
	}
	return events, newCursor, nil
}

type icsEntry struct {
	UID      string
	Summary  string
	Location string
	Start    time.Time
}

// parseICS reads the VEVENT fields the watcher needs: UID, SUMMARY,
// LOCATION, DTSTART. Continuation lines (leading space or tab) are unfolded
// per RFC 5545.
func parseICS(r *os.File) ([]icsEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			// Unfold: the CRLF plus one whitespace char marks the fold.
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var entries []icsEntry
	var current *icsEntry
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = &icsEntry{}
		case line == "END:VEVENT":
			if current != nil && !current.Start.IsZero() {
				entries = append(entries, *current)
			}
			current = nil
		case current != nil:
			name, value := splitICSLine(line)
			switch name {
			case "UID":
				current.UID = value
			case "SUMMARY":
				current.Summary = value
			case "LOCATION":
				current.Location = value
			case "DTSTART":
				if t, ok := parseICSTime(value); ok {
					current.Start = t
				}
			}
		}
	}
	return entries, nil
}

// splitICSLine separates "NAME;PARAM=X:value" into the bare property name
// and its value.
func splitICSLine(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return line, ""
	}
	name := line[:idx]
	if semi := strings.Index(name, ";"); semi != -1 {
		name = name[:semi]
	}
	return strings.ToUpper(name), line[idx+1:]
}

func parseICSTime(value string) (time.Time, bool) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
