package watch

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// pollBatchLimit caps how many rows one poll drains; the next tick picks up
// where the cursor left off.
const pollBatchLimit = 500

// appleEpoch is the zero point of Messages timestamps (2001-01-01 UTC).
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// MessagesWatcher tails a Messages chat.db. The cursor is the last-seen
// ROWID; the first poll baselines to the current maximum so an existing
// history is never replayed as events.
type MessagesWatcher struct {
	Path string

	db *sql.DB
}

func (w *MessagesWatcher) ID() string { return "messages" }

func (w *MessagesWatcher) open() (*sql.DB, error) {
	if w.db != nil {
		return w.db, nil
	}
	dsn := w.Path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"query_only(1)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chat database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	w.db = db
	return db, nil
}

// Close releases the database handle.
func (w *MessagesWatcher) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

func (w *MessagesWatcher) Poll(ctx context.Context, cursor []byte) ([]Event, []byte, error) {
	db, err := w.open()
	if err != nil {
		return nil, cursor, err
	}

	if len(cursor) == 0 {
		var max sql.NullInt64
		if err := db.QueryRowContext(ctx, `SELECT MAX(ROWID) FROM message`).Scan(&max); err != nil {
			return nil, cursor, fmt.Errorf("baseline chat cursor: %w", err)
		}
		return nil, []byte(strconv.FormatInt(max.Int64, 10)), nil
	}

	last, err := strconv.ParseInt(string(cursor), 10, 64)
	if err != nil {
		last = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.ROWID, COALESCE(m.guid, ''), COALESCE(m.text, ''), COALESCE(h.id, ''), m.date
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.ROWID > ? AND m.is_from_me = 0
		ORDER BY m.ROWID ASC
		LIMIT ?`, last, pollBatchLimit)
	if err != nil {
		return nil, cursor, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			rowid  int64
			guid   string
			text   string
			sender string
			date   int64
		)
		if err := rows.Scan(&rowid, &guid, &text, &sender, &date); err != nil {
			return nil, cursor, err
		}

		id := guid
		if id == "" {
			id = strconv.FormatInt(rowid, 10)
		}
		events = append(events, Event{
			WatcherID: w.ID(),
			EventID:   id,
			Timestamp: appleTime(date),
			Payload: map[string]any{
				"text":   text,
				"sender": sender,
				"rowid":  rowid,
			},
		})
		last = rowid
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, err
	}

	return events, []byte(strconv.FormatInt(last, 10)), nil
}

// appleTime converts a Messages date column to wall time. Newer schemas
// store nanoseconds since the Apple epoch, older ones seconds.
func appleTime(date int64) time.Time {
	if date > 1e12 {
		return appleEpoch.Add(time.Duration(date))
	}
	return appleEpoch.Add(time.Duration(date) * time.Second)
}
