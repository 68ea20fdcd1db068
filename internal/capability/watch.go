package capability

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DirWatcher reloads the registry when skill files change and notifies the
// daemon so the manifest can be synced.
type DirWatcher struct {
	registry *Registry
	dir      string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	onReload func()
	debounce *time.Timer
}

// NewDirWatcher creates a watcher over dir for registry.
func NewDirWatcher(registry *Registry, dir string) (*DirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DirWatcher{
		registry: registry,
		dir:      dir,
		watcher:  fsw,
		stopChan: make(chan struct{}),
	}, nil
}

// OnReload registers the callback invoked after each reload.
func (w *DirWatcher) OnReload(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start watches the skills directory, creating it if absent.
func (w *DirWatcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.loop()
	log.Info().Str("dir", w.dir).Msg("Watching skills directory")
	return nil
}

// Stop stops the watcher.
func (w *DirWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *DirWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevantSkillEvent(event) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Skills watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func relevantSkillEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := strings.ToLower(filepath.Base(event.Name))
	return strings.HasSuffix(name, ".md") || !strings.Contains(name, ".")
}

// scheduleReload debounces bursts of filesystem events into one reload.
func (w *DirWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(300*time.Millisecond, func() {
		if err := w.registry.LoadSkills(w.dir); err != nil {
			log.Error().Err(err).Msg("Failed to reload skills")
			return
		}
		log.Info().Msg("Skills reloaded")

		w.mu.Lock()
		callback := w.onReload
		w.mu.Unlock()
		if callback != nil {
			callback()
		}
	})
}
