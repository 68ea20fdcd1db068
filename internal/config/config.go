package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Enforced floors keep a misconfigured interval from hammering system
// services the watchers poll.
const (
	MinPollInterval = 10 * time.Second
	MinTickInterval = 30 * time.Second

	defaultPollInterval = 30 * time.Second
	defaultTickInterval = 60 * time.Second

	defaultMaxContextTokens = 80000
	defaultCompactThreshold = 0.50

	defaultSummarizeSkipThreshold = 500
	defaultSummarizeThreshold     = 800

	defaultStatusAddr = "127.0.0.1:7654"
)

// Config is the resolved runtime configuration. It is built once at startup
// from the environment (plus an optional .env in the data directory) and
// treated as immutable afterwards; the watcher applies the few hot-reloadable
// fields under its own lock.
type Config struct {
	DataDir string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int
	LogCompress   bool

	// Listener (watcher loop)
	ListenerEnabled      bool
	ListenerPollInterval time.Duration
	ListenerStatePath    string
	ListenerWatchers     []string

	// Watcher sources. Empty means the watcher stays disabled.
	MaildirPath      string
	CalendarPath     string
	ChatDBPath       string
	NotificationsLog string
	RepoPath         string

	// Scheduler
	SchedulerEnabled      bool
	SchedulerTickInterval time.Duration
	TasksPath             string

	// Router storage
	ManifestPath string
	SkillsDir    string

	// Model delegation
	ModelProvider   string // empty means auto-detect
	OnDeviceBridge  string
	MLXURL          string
	OllamaURL       string
	OllamaModel     string
	LMStudioURL     string
	LMStudioModel   string
	GroqAPIKey      string
	GroqModel       string
	GeminiAPIKey    string
	GeminiModel     string
	AnthropicAPIKey string
	AnthropicModel  string

	// Context management
	MaxContextTokens        int
	CompactThreshold        float64
	SummarizeSkipThreshold  int
	SummarizeThreshold      int

	// Status API; empty disables the server.
	StatusAddr string

	// Track which settings came from environment variables.
	EnvOverrides map[string]bool
}

// Load reads configuration from the environment. An optional .env file in the
// data directory is applied first (existing process env always wins, matching
// godotenv semantics).
func Load() (*Config, error) {
	dataDir := defaultDataDir()
	if dir := os.Getenv("DARBY_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	// Development convenience: a .env in the working directory.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from current directory")
	}

	cfg := &Config{
		DataDir:                dataDir,
		LogLevel:               "info",
		LogFormat:              "auto",
		LogMaxSizeMB:           50,
		LogMaxAgeDays:          14,
		LogCompress:            true,
		ListenerEnabled:        true,
		ListenerPollInterval:   defaultPollInterval,
		ListenerStatePath:      filepath.Join(dataDir, "listener-state.db"),
		SchedulerEnabled:       true,
		SchedulerTickInterval:  defaultTickInterval,
		TasksPath:              filepath.Join(dataDir, "scheduled-tasks.json"),
		ManifestPath:           filepath.Join(dataDir, "capabilities.json"),
		SkillsDir:              filepath.Join(dataDir, "skills"),
		OllamaURL:              "http://localhost:11434",
		LMStudioURL:            "http://localhost:1234",
		MLXURL:                 "http://localhost:8765",
		MaxContextTokens:       defaultMaxContextTokens,
		CompactThreshold:       defaultCompactThreshold,
		SummarizeSkipThreshold: defaultSummarizeSkipThreshold,
		SummarizeThreshold:     defaultSummarizeThreshold,
		StatusAddr:             defaultStatusAddr,
		EnvOverrides:           make(map[string]bool),
	}

	cfg.applyEnv()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	return cfg, nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".darby")
	}
	return "/etc/darby"
}

func (c *Config) applyEnv() {
	c.strVar(&c.LogLevel, "DARBY_LOG_LEVEL")
	c.strVar(&c.LogFormat, "DARBY_LOG_FORMAT")
	c.strVar(&c.LogFile, "DARBY_LOG_FILE")
	c.intVar(&c.LogMaxSizeMB, "DARBY_LOG_MAX_SIZE")
	c.intVar(&c.LogMaxAgeDays, "DARBY_LOG_MAX_AGE")
	c.boolVar(&c.LogCompress, "DARBY_LOG_COMPRESS")

	c.boolVar(&c.ListenerEnabled, "DARBY_LISTENER_ENABLED")
	c.durationVar(&c.ListenerPollInterval, "DARBY_LISTENER_POLL_INTERVAL")
	c.strVar(&c.ListenerStatePath, "DARBY_LISTENER_STATE_PATH")
	if raw := os.Getenv("DARBY_LISTENER_WATCHERS"); raw != "" {
		c.ListenerWatchers = splitCSV(raw)
		c.EnvOverrides["DARBY_LISTENER_WATCHERS"] = true
	}

	c.strVar(&c.MaildirPath, "DARBY_MAILDIR")
	c.strVar(&c.CalendarPath, "DARBY_CALENDAR_ICS")
	c.strVar(&c.ChatDBPath, "DARBY_CHAT_DB")
	c.strVar(&c.NotificationsLog, "DARBY_NOTIFICATIONS_LOG")
	c.strVar(&c.RepoPath, "DARBY_REPO_PATH")

	c.boolVar(&c.SchedulerEnabled, "DARBY_SCHEDULER_ENABLED")
	c.durationVar(&c.SchedulerTickInterval, "DARBY_SCHEDULER_TICK_INTERVAL")
	c.strVar(&c.TasksPath, "DARBY_SCHEDULER_TASKS_PATH")

	c.strVar(&c.ManifestPath, "DARBY_MANIFEST_PATH")
	c.strVar(&c.SkillsDir, "DARBY_SKILLS_DIR")

	c.strVar(&c.ModelProvider, "DARBY_MODEL_PROVIDER")
	c.strVar(&c.OnDeviceBridge, "DARBY_ONDEVICE_BRIDGE")
	c.strVar(&c.MLXURL, "DARBY_MLX_URL")
	c.strVar(&c.OllamaURL, "DARBY_OLLAMA_URL")
	c.strVar(&c.OllamaModel, "DARBY_OLLAMA_MODEL")
	c.strVar(&c.LMStudioURL, "DARBY_LMSTUDIO_URL")
	c.strVar(&c.LMStudioModel, "DARBY_LMSTUDIO_MODEL")
	c.strVar(&c.GroqAPIKey, "GROQ_API_KEY")
	c.strVar(&c.GroqModel, "DARBY_GROQ_MODEL")
	c.strVar(&c.GeminiAPIKey, "GEMINI_API_KEY")
	c.strVar(&c.GeminiModel, "DARBY_GEMINI_MODEL")
	c.strVar(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	c.strVar(&c.AnthropicModel, "DARBY_ANTHROPIC_MODEL")

	c.intVar(&c.MaxContextTokens, "DARBY_MAX_CONTEXT_TOKENS")
	c.floatVar(&c.CompactThreshold, "DARBY_COMPACT_THRESHOLD")
	c.intVar(&c.SummarizeSkipThreshold, "DARBY_SUMMARIZE_SKIP_THRESHOLD")
	c.intVar(&c.SummarizeThreshold, "DARBY_SUMMARIZE_THRESHOLD")

	if raw, ok := os.LookupEnv("DARBY_STATUS_ADDR"); ok {
		c.StatusAddr = strings.TrimSpace(raw)
		c.EnvOverrides["DARBY_STATUS_ADDR"] = true
	}

	// Floors, applied after overrides so a low env value cannot bypass them.
	if c.ListenerPollInterval < MinPollInterval {
		log.Warn().
			Dur("requested", c.ListenerPollInterval).
			Dur("floor", MinPollInterval).
			Msg("Listener poll interval below floor; clamping")
		c.ListenerPollInterval = MinPollInterval
	}
	if c.SchedulerTickInterval < MinTickInterval {
		log.Warn().
			Dur("requested", c.SchedulerTickInterval).
			Dur("floor", MinTickInterval).
			Msg("Scheduler tick interval below floor; clamping")
		c.SchedulerTickInterval = MinTickInterval
	}
	if c.CompactThreshold <= 0 || c.CompactThreshold > 1 {
		c.CompactThreshold = defaultCompactThreshold
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = defaultMaxContextTokens
	}
}

func (c *Config) strVar(dst *string, key string) {
	if raw, ok := os.LookupEnv(key); ok {
		*dst = strings.Trim(strings.TrimSpace(raw), "'\"")
		c.EnvOverrides[key] = true
	}
}

func (c *Config) intVar(dst *int, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("var", key).Str("value", raw).Msg("Invalid integer env value; ignoring")
		return
	}
	*dst = v
	c.EnvOverrides[key] = true
}

func (c *Config) boolVar(dst *bool, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("var", key).Str("value", raw).Msg("Invalid boolean env value; ignoring")
		return
	}
	*dst = v
	c.EnvOverrides[key] = true
}

func (c *Config) floatVar(dst *float64, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("var", key).Str("value", raw).Msg("Invalid float env value; ignoring")
		return
	}
	*dst = v
	c.EnvOverrides[key] = true
}

// durationVar accepts Go duration strings ("45s", "2m") and bare integers,
// which are taken as seconds.
func (c *Config) durationVar(dst *time.Duration, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(secs) * time.Second
		c.EnvOverrides[key] = true
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("var", key).Str("value", raw).Msg("Invalid duration env value; ignoring")
		return
	}
	*dst = d
	c.EnvOverrides[key] = true
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
