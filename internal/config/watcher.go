package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Hot-reloadable keys. Everything else requires a restart.
var reloadableKeys = []string{
	"DARBY_LOG_LEVEL",
	"DARBY_MODEL_PROVIDER",
	"GROQ_API_KEY",
	"GEMINI_API_KEY",
	"ANTHROPIC_API_KEY",
}

// Watcher monitors the data directory .env file and applies hot-reloadable
// settings to the running config.
type Watcher struct {
	config      *Config
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time
	mu          sync.RWMutex
	onChange    func(changed []string)
}

// NewWatcher creates a watcher for cfg's data directory.
func NewWatcher(cfg *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:   cfg,
		envPath:  filepath.Join(cfg.DataDir, ".env"),
		watcher:  fsw,
		stopChan: make(chan struct{}),
	}
	if stat, err := os.Stat(w.envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// OnChange registers the callback invoked after a reload that changed
// anything. It receives the list of changed keys.
func (w *Watcher) OnChange(fn func(changed []string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start begins watching. Falls back to polling when the directory cannot be
// watched (some network filesystems).
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.envPath)); err != nil {
		log.Warn().Err(err).Str("path", w.envPath).Msg("Failed to watch config directory; falling back to polling")
		go w.pollForChanges()
		return nil
	}

	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Watching config file for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

// Reload manually triggers a config reload (e.g. from SIGHUP).
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ".env" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce: editors write in multiple syscalls.
			time.Sleep(100 * time.Millisecond)
			log.Info().Str("event", event.Op.String()).Msg("Detected .env change")
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			if stat.ModTime().After(w.lastModTime) {
				w.lastModTime = stat.ModTime()
				log.Info().Msg("Detected .env change via polling")
				w.reload()
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()

	envMap, err := godotenv.Read(w.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("Failed to read .env file")
			w.mu.Unlock()
			return
		}
		envMap = make(map[string]string)
	}

	var changes []string
	for _, key := range reloadableKeys {
		newVal := strings.Trim(envMap[key], "'\"")
		if w.applyLocked(key, newVal) {
			changes = append(changes, key)
		}
	}
	callback := w.onChange
	w.mu.Unlock()

	if len(changes) == 0 {
		log.Debug().Msg("No relevant changes in .env file")
		return
	}
	log.Info().Strs("changes", changes).Msg("Applied .env changes to runtime config")
	if callback != nil {
		go callback(changes)
	}
}

func (w *Watcher) applyLocked(key, val string) bool {
	switch key {
	case "DARBY_LOG_LEVEL":
		if val != "" && val != w.config.LogLevel {
			w.config.LogLevel = val
			return true
		}
	case "DARBY_MODEL_PROVIDER":
		if val != w.config.ModelProvider {
			w.config.ModelProvider = val
			return true
		}
	case "GROQ_API_KEY":
		if val != w.config.GroqAPIKey {
			w.config.GroqAPIKey = val
			return true
		}
	case "GEMINI_API_KEY":
		if val != w.config.GeminiAPIKey {
			w.config.GeminiAPIKey = val
			return true
		}
	case "ANTHROPIC_API_KEY":
		if val != w.config.AnthropicAPIKey {
			w.config.AnthropicAPIKey = val
			return true
		}
	}
	return false
}
