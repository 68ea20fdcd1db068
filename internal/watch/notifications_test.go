package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationsPollReadsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	require.NoError(t, os.WriteFile(path, []byte("build failed: api\nbackup completed\n"), 0o600))

	w := &NotificationsWatcher{Path: path}
	events, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "build failed: api", events[0].Payload["message"])
	assert.Equal(t, "backup completed", events[1].Payload["message"])
	assert.NotEqual(t, events[0].EventID, events[1].EventID)
	assert.NotEmpty(t, cursor)
}

func TestNotificationsPollOnlyNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	w := &NotificationsWatcher{Path: path}
	_, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, _, err := w.Poll(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "second", events[0].Payload["message"])
}

func TestNotificationsPollPartialLineDeferred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	require.NoError(t, os.WriteFile(path, []byte("complete\nincomplete without newline"), 0o600))

	w := &NotificationsWatcher{Path: path}
	events, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "complete", events[0].Payload["message"])

	// Finishing the line makes it visible on the next poll.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, _, err = w.Poll(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "incomplete without newline", events[0].Payload["message"])
}

func TestNotificationsPollHandlesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	require.NoError(t, os.WriteFile(path, []byte("old line that makes the file long\n"), 0o600))

	w := &NotificationsWatcher{Path: path}
	_, cursor, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)

	// Rotation: the file is replaced with a shorter one.
	require.NoError(t, os.WriteFile(path, []byte("fresh\n"), 0o600))

	events, _, err := w.Poll(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].Payload["message"])
}

func TestNotificationsPollMissingFile(t *testing.T) {
	w := &NotificationsWatcher{Path: filepath.Join(t.TempDir(), "none.log")}
	events, cursor, err := w.Poll(context.Background(), []byte(`{"offset":10}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []byte(`{"offset":10}`), cursor)
}

func TestNotificationsBlankLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")
	require.NoError(t, os.WriteFile(path, []byte("\n\nreal\n\n"), 0o600))

	w := &NotificationsWatcher{Path: path}
	events, _, err := w.Poll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "real", events[0].Payload["message"])
}
