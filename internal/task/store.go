package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/metrics"
)

// ErrNotFound marks operations against an unknown task ID.
var ErrNotFound = errors.New("task not found")

// DefaultStaleAge is how long a task may sit in running before crash
// recovery sends it back to pending.
const DefaultStaleAge = 10 * time.Minute

// storeFile is the on-disk document.
type storeFile struct {
	Version int          `json:"version"`
	Tasks   []*Scheduled `json:"tasks"`
}

// Store keeps the scheduled tasks, writing the whole document through on
// every mutation (temp file + rename, like the manifest). A write failure
// keeps the in-memory state; the next mutation retries.
type Store struct {
	mu       sync.Mutex
	path     string
	tasks    []*Scheduled
	staleAge time.Duration
	now      func() time.Time
}

// Load reads the task store, tolerating a missing file. Stale running tasks
// are promoted back to pending.
func Load(path string) (*Store, error) {
	s := &Store{
		path:     path,
		staleAge: DefaultStaleAge,
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read task store %s: %w", path, err)
	}

	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse task store %s: %w", path, err)
	}
	s.tasks = doc.Tasks

	if promoted := s.promoteStaleLocked(s.now()); promoted > 0 {
		log.Info().Int("count", promoted).Msg("Promoted stale running tasks back to pending")
		if err := s.saveLocked(); err != nil {
			log.Warn().Err(err).Msg("Failed to persist stale-task promotion")
		}
	}
	s.updateGaugeLocked()
	return s, nil
}

// Add validates, assigns an ID, computes the first run, and persists.
func (s *Store) Add(taskString string, schedule Schedule, origin Origin) (*Scheduled, error) {
	if taskString == "" {
		return nil, fmt.Errorf("task string is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next, err := schedule.firstRun(now)
	if err != nil {
		return nil, err
	}

	t := &Scheduled{
		ID:        ulid.Make().String(),
		Task:      taskString,
		Schedule:  schedule,
		NextRunAt: next,
		Status:    StatusPending,
		Origin:    origin,
		CreatedAt: now,
	}
	s.tasks = append(s.tasks, t)

	if err := s.saveLocked(); err != nil {
		log.Warn().Err(err).Str("task", t.ID).Msg("Task store write failed; keeping in memory")
	}
	s.updateGaugeLocked()
	return t.clone(), nil
}

// Remove deletes a task by ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			if err := s.saveLocked(); err != nil {
				log.Warn().Err(err).Str("task", id).Msg("Task store write failed; keeping in memory")
			}
			s.updateGaugeLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (*Scheduled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.findLocked(id); t != nil {
		return t.clone(), true
	}
	return nil, false
}

// List returns copies of all tasks in creation order.
func (s *Store) List() []*Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Scheduled, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	return out
}

// Due returns copies of the pending tasks whose next_run_at has arrived,
// after promoting any stale running tasks.
func (s *Store) Due(now time.Time) []*Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	if promoted := s.promoteStaleLocked(now); promoted > 0 {
		log.Info().Int("count", promoted).Msg("Promoted stale running tasks back to pending")
		if err := s.saveLocked(); err != nil {
			log.Warn().Err(err).Msg("Failed to persist stale-task promotion")
		}
	}

	var due []*Scheduled
	for _, t := range s.tasks {
		if t.Status == StatusPending && !t.NextRunAt.After(now) {
			due = append(due, t.clone())
		}
	}
	return due
}

// MarkRunning transitions a pending task to running. A task already running
// is never dispatched twice.
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("task %s is %s, not pending", id, t.Status)
	}

	now := s.now()
	t.Status = StatusRunning
	t.LastRunAt = &now

	if err := s.saveLocked(); err != nil {
		log.Warn().Err(err).Str("task", id).Msg("Task store write failed; keeping in memory")
	}
	s.updateGaugeLocked()
	return nil
}

// Complete finishes a running task. Recurring tasks get a fresh next_run_at
// and return to pending whether they succeeded or failed; one-shot tasks
// rest at completed or failed.
func (s *Store) Complete(id string, taskErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if taskErr != nil {
		t.Status = StatusFailed
		t.Error = taskErr.Error()
	} else {
		t.Status = StatusCompleted
		t.Error = ""
	}

	if next, ok := t.Schedule.nextAfter(s.now()); ok {
		t.NextRunAt = next
		t.Status = StatusPending
	}

	if err := s.saveLocked(); err != nil {
		log.Warn().Err(err).Str("task", id).Msg("Task store write failed; keeping in memory")
	}
	s.updateGaugeLocked()
	return nil
}

// Pending counts tasks waiting to run.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.Status == StatusPending {
			n++
		}
	}
	return n
}

func (s *Store) findLocked(id string) *Scheduled {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// promoteStaleLocked returns running tasks to pending once they exceed the
// stale age. LastRunAt is when the run started; a missing LastRunAt on a
// running task is itself corrupt and promoted immediately.
func (s *Store) promoteStaleLocked(now time.Time) int {
	promoted := 0
	for _, t := range s.tasks {
		if t.Status != StatusRunning {
			continue
		}
		if t.LastRunAt == nil || now.Sub(*t.LastRunAt) >= s.staleAge {
			t.Status = StatusPending
			promoted++
		}
	}
	return promoted
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create task store directory: %w", err)
	}

	doc := storeFile{Version: 1, Tasks: s.tasks}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write task store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename task store file: %w", err)
	}
	return nil
}

func (s *Store) updateGaugeLocked() {
	metrics.TasksPending.Set(float64(s.pendingLocked()))
}
