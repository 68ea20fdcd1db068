package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testICS = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:standup-123
DTSTART:20250602T120000Z
SUMMARY:Team standup with a very long ti
 tle that folds across lines
LOCATION:Room 4
END:VEVENT
BEGIN:VEVENT
UID:offsite-456
DTSTART:20250710T090000Z
SUMMARY:Summer offsite
END:VEVENT
END:VCALENDAR
`

func writeICS(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.ics")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCalendarPollUpcomingOnly(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	w := &CalendarWatcher{
		Path: writeICS(t, testICS),
		now:  func() time.Time { return now },
	}

	events, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the event inside the look-ahead window")

	assert.Equal(t, "standup-123@2025-06-02T12:00:00Z", events[0].EventID)
	assert.Equal(t, "Team standup with a very long title that folds across lines", events[0].Payload["summary"])
	assert.Equal(t, "Room 4", events[0].Payload["location"])
	assert.NotEmpty(t, cursor)
}

func TestCalendarPollUnchangedSetEmitsNothing(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	w := &CalendarWatcher{
		Path: writeICS(t, testICS),
		now:  func() time.Time { return now },
	}

	_, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)

	events, cursor2, err := w.Poll(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, cursor, cursor2)
}

func TestCalendarPollPastEventsExcluded(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	w := &CalendarWatcher{
		Path: writeICS(t, testICS),
		now:  func() time.Time { return now },
	}

	events, _, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events, "both events are in the past")
}

func TestCalendarPollCustomLookAhead(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	w := &CalendarWatcher{
		Path:      writeICS(t, testICS),
		LookAhead: 45 * 24 * time.Hour,
		now:       func() time.Time { return now },
	}

	events, _, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, events, 2, "wide window catches the offsite too")
}

func TestCalendarPollMissingFile(t *testing.T) {
	w := &CalendarWatcher{Path: filepath.Join(t.TempDir(), "none.ics")}
	events, cursor, err := w.Poll(context.Background(), []byte("prev"))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []byte("prev"), cursor)
}

func TestParseICSTimeFormats(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"20250602T120000Z", true},
		{"20250602T120000", true},
		{"20250602", true},
		{"junk", false},
	}
	for _, tc := range tests {
		_, ok := parseICSTime(tc.value)
		assert.Equal(t, tc.ok, ok, tc.value)
	}
}
