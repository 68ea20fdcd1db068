package watch

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"
)

// NotificationsWatcher tails a line-oriented notification log. The cursor is
// the byte offset of the last consumed line; truncation (log rotation) resets
// it to the start of the new file.
type NotificationsWatcher struct {
	Path string
}

type notifyCursor struct {
	Offset int64 `json:"offset"`
}

func (w *NotificationsWatcher) ID() string { return "notifications" }

func (w *NotificationsWatcher) Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, err
	}
	defer f.Close()

	var state notifyCursor
	if len(cursor) > 0 {
		_ = json.Unmarshal(cursor, &state)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, err
	}
	if info.Size() < state.Offset {
		// Rotated or truncated underneath us.
		state.Offset = 0
	}
	if _, err := f.Seek(state.Offset, io.SeekStart); err != nil {
		return nil, cursor, err
	}

	reader := bufio.NewReader(f)
	offset := state.Offset
	var events []Event
	for {
		if err := ctx.Err(); err != nil {
			break
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line stays unconsumed until the writer
			// finishes it.
			break
		}
		lineStart := offset
		offset += int64(len(line))

		text := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		events = append(events, Event{
			WatcherID: w.ID(),
			EventID:   notifyEventID(lineStart, text),
			Timestamp: time.Now(),
			Payload:   map[string]any{"message": text},
		})
	}

	newCursor, err := json.Marshal(notifyCursor{Offset: offset})
	if err != nil {
		return nil, cursor, err
	}
	return events, newCursor, nil
}

func notifyEventID(offset int64, line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:8]) + "@" + hex.EncodeToString(int64Bytes(offset))
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
