package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

// maxSeen bounds the per-watcher dedup set. Oldest IDs fall off first; a
// source would have to replay more than this many events in one gap for a
// duplicate to slip through.
const maxSeen = 2000

var (
	keyCursor = []byte("cursor")
	keySeen   = []byte("seen")
)

// Store persists watcher state in bbolt: one bucket per watcher holding the
// opaque cursor blob and a bounded seen-set of processed event IDs. All
// updates for a watcher happen in a single transaction, so the cursor and
// seen-set never diverge.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the state database.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cursor returns the persisted cursor for a watcher, nil if none exists yet.
func (s *Store) Cursor(watcherID string) ([]byte, error) {
	var cursor []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(watcherID))
		if b == nil {
			return nil
		}
		if v := b.Get(keyCursor); v != nil {
			cursor = make([]byte, len(v))
			copy(cursor, v)
		}
		return nil
	})
	return cursor, err
}

// Commit atomically stores the new cursor and filters events against the
// watcher's seen-set. Only events with unseen IDs are returned; their IDs
// join the set in the same transaction.
func (s *Store) Commit(watcherID string, cursor []byte, events []Event) ([]Event, error) {
	var fresh []Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(watcherID))
		if err != nil {
			return err
		}

		var seen []string
		if raw := b.Get(keySeen); raw != nil {
			if err := json.Unmarshal(raw, &seen); err != nil {
				log.Warn().Err(err).Str("watcher", watcherID).Msg("Corrupt seen-set; resetting")
				seen = nil
			}
		}
		index := make(map[string]bool, len(seen))
		for _, id := range seen {
			index[id] = true
		}

		fresh = fresh[:0]
		for _, ev := range events {
			if ev.EventID == "" || index[ev.EventID] {
				continue
			}
			index[ev.EventID] = true
			seen = append(seen, ev.EventID)
			fresh = append(fresh, ev)
		}
		if len(seen) > maxSeen {
			seen = seen[len(seen)-maxSeen:]
		}

		raw, err := json.Marshal(seen)
		if err != nil {
			return err
		}
		if err := b.Put(keySeen, raw); err != nil {
			return err
		}
		if cursor != nil {
			if err := b.Put(keyCursor, cursor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// Seen reports whether an event ID is in the watcher's dedup set.
func (s *Store) Seen(watcherID, eventID string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(watcherID))
		if b == nil {
			return nil
		}
		raw := b.Get(keySeen)
		if raw == nil {
			return nil
		}
		var seen []string
		if err := json.Unmarshal(raw, &seen); err != nil {
			return nil
		}
		for _, id := range seen {
			if id == eventID {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}
