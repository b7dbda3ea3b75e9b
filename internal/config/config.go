package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mifrun/task-runner/internal/batch"
	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/generate"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/notion"
	"github.com/mifrun/task-runner/internal/policy"
	"github.com/mifrun/task-runner/internal/retry"
	"github.com/mifrun/task-runner/internal/scheduler"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// Store backends
const (
	BackendSQLite = "sqlite"
	BackendNotion = "notion"
)

// Environment variables holding credentials and the store identifier
const (
	EnvNotionToken    = "NOTION_TOKEN"
	EnvNotionDatabase = "NOTION_DATABASE_ID"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
	EnvDatabasePath   = "TASKRUNNER_DB"
	EnvLogLevel       = "TASKRUNNER_LOG_LEVEL"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig        `toml:"general"`
	Store         StoreConfig          `toml:"store"`
	Policy        PolicyConfig         `toml:"policy"`
	Executor      ExecutorConfig       `toml:"executor"`
	Scheduler     SchedulerConfig      `toml:"scheduler"`
	Generator     GeneratorConfig      `toml:"generator"`
	Notifications NotificationsConfig  `toml:"notifications"`
	Schedule      batch.ScheduleConfig `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot string `toml:"project_root"`
	LogLevel    string `toml:"log_level"`
}

// StoreConfig selects the task store
type StoreConfig struct {
	Backend          string `toml:"backend"`
	DatabasePath     string `toml:"database_path"`
	NotionDatabaseID string `toml:"notion_database_id"`
	NotionToken      string `toml:"-"`
	TimeoutSec       int    `toml:"timeout_sec"`
	RetryAttempts    int    `toml:"retry_attempts"`
	RetryBackoffMS   int    `toml:"retry_backoff_ms"`
}

// PolicyConfig holds the allow-lists
type PolicyConfig struct {
	Actions       []string `toml:"actions"`
	Scripts       []string `toml:"scripts"`
	URLs          []string `toml:"urls"`
	DefaultScript string   `toml:"default_script"`
	DefaultURL    string   `toml:"default_url"`
}

// ExecutorConfig holds action execution settings
type ExecutorConfig struct {
	WorkDir          string `toml:"work_dir"`
	ScriptsDir       string `toml:"scripts_dir"`
	Shell            string `toml:"shell"`
	ScriptTimeoutSec int    `toml:"script_timeout_sec"`
	APITimeoutSec    int    `toml:"api_timeout_sec"`
	CodexEnabled     bool   `toml:"codex_enabled"`
	CodexBin         string `toml:"codex_bin"`
}

// SchedulerConfig holds pass settings
type SchedulerConfig struct {
	BatchSize  int `toml:"batch_size"`
	ThrottleMS int `toml:"throttle_ms"`
	EpicBatch  int `toml:"epic_batch"`
}

// GeneratorConfig holds text generation settings
type GeneratorConfig struct {
	Provider       string  `toml:"provider"`
	Model          string  `toml:"model"`
	BaseURL        string  `toml:"base_url"`
	TimeoutSec     int     `toml:"timeout_sec"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	RetryAttempts  int     `toml:"retry_attempts"`
	RetryBackoffMS int     `toml:"retry_backoff_ms"`
	APIKey         string  `toml:"-"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Store: StoreConfig{
			Backend:        BackendSQLite,
			DatabasePath:   filepath.Join(home, ".taskrunner", "tasks.db"),
			TimeoutSec:     int(notion.DefaultTimeout / time.Second),
			RetryAttempts:  5,
			RetryBackoffMS: 800,
		},
		Policy: PolicyConfig{
			Actions:       []string{string(domain.ActionRunScript), string(domain.ActionCallAPI), string(domain.ActionCodexApply)},
			Scripts:       []string{"build.sh", "sync_data.sh"},
			URLs:          []string{policy.DefaultURL},
			DefaultScript: policy.DefaultScript,
			DefaultURL:    policy.DefaultURL,
		},
		Executor: ExecutorConfig{
			WorkDir:          ".",
			ScriptsDir:       "tasks",
			Shell:            "/bin/bash",
			ScriptTimeoutSec: int(executor.DefaultScriptTimeout / time.Second),
			APITimeoutSec:    int(executor.DefaultAPITimeout / time.Second),
			CodexBin:         "codex",
		},
		Scheduler: SchedulerConfig{
			BatchSize:  scheduler.DefaultBatchSize,
			ThrottleMS: int(scheduler.DefaultThrottle / time.Millisecond),
			EpicBatch:  5,
		},
		Generator: GeneratorConfig{
			Provider:       generate.ProviderOpenAI,
			TimeoutSec:     int(generate.DefaultTimeout / time.Second),
			Temperature:    generate.DefaultTemperature,
			MaxTokens:      generate.DefaultMaxTokens,
			RetryAttempts:  5,
			RetryBackoffMS: 1000,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)
	cfg.Executor.WorkDir = ExpandPath(cfg.Executor.WorkDir)

	return cfg, nil
}

// ApplyEnv overlays credentials and the store identifier from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvNotionToken); v != "" {
		c.Store.NotionToken = v
	}
	if v := os.Getenv(EnvNotionDatabase); v != "" {
		c.Store.NotionDatabaseID = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Store.DatabasePath = ExpandPath(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.General.LogLevel = v
	}
	switch c.Generator.Provider {
	case generate.ProviderAnthropic:
		c.Generator.APIKey = os.Getenv(EnvAnthropicKey)
	default:
		c.Generator.APIKey = os.Getenv(EnvOpenAIKey)
	}
}

// Validate rejects configurations no component could run with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.DatabasePath == "" {
			return fmt.Errorf("store.database_path is required for the sqlite backend")
		}
	case BackendNotion:
		if c.Store.NotionDatabaseID == "" {
			return fmt.Errorf("%s is required for the notion backend", EnvNotionDatabase)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Generator.Provider {
	case generate.ProviderOpenAI, generate.ProviderAnthropic:
	default:
		return fmt.Errorf("unknown generator provider %q", c.Generator.Provider)
	}

	for _, a := range c.Policy.Actions {
		switch domain.Action(a) {
		case domain.ActionRunScript, domain.ActionCallAPI, domain.ActionCodexApply:
		default:
			return fmt.Errorf("policy.actions: unknown action %q", a)
		}
	}

	if c.Scheduler.ThrottleMS < 0 {
		return fmt.Errorf("scheduler.throttle_ms must not be negative")
	}

	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.General.LogLevel)
}

// PolicyConfig converts the allow-lists
func (c *Config) PolicyConfig() policy.Config {
	actions := make([]domain.Action, 0, len(c.Policy.Actions))
	for _, a := range c.Policy.Actions {
		actions = append(actions, domain.Action(a))
	}
	return policy.Config{
		Actions:       actions,
		Scripts:       c.Policy.Scripts,
		URLs:          c.Policy.URLs,
		DefaultScript: c.Policy.DefaultScript,
		DefaultURL:    c.Policy.DefaultURL,
	}
}

// ExecutorConfig converts the executor section
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		WorkDir:       c.Executor.WorkDir,
		ScriptsDir:    c.Executor.ScriptsDir,
		Shell:         c.Executor.Shell,
		ScriptTimeout: seconds(c.Executor.ScriptTimeoutSec),
		APITimeout:    seconds(c.Executor.APITimeoutSec),
		CodexEnabled:  c.Executor.CodexEnabled,
		CodexBin:      c.Executor.CodexBin,
	}
}

// SchedulerConfig converts the scheduler section
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		BatchSize: c.Scheduler.BatchSize,
		Throttle:  time.Duration(c.Scheduler.ThrottleMS) * time.Millisecond,
	}
}

// GeneratorConfig converts the generator section
func (c *Config) GeneratorConfig() generate.Config {
	return generate.Config{
		Provider:    c.Generator.Provider,
		Model:       c.Generator.Model,
		APIKey:      c.Generator.APIKey,
		BaseURL:     c.Generator.BaseURL,
		Timeout:     seconds(c.Generator.TimeoutSec),
		Temperature: c.Generator.Temperature,
		MaxTokens:   c.Generator.MaxTokens,
	}
}

// GeneratorRetry is the retry policy around one generation call
func (c *Config) GeneratorRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Generator.RetryAttempts,
		Backoff:     retry.Exponential(time.Duration(c.Generator.RetryBackoffMS) * time.Millisecond),
		Retryable:   generate.IsRetryable,
	}
}

// StoreRetry is the retry policy around every store call
func (c *Config) StoreRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Store.RetryAttempts,
		Backoff:     retry.Linear(time.Duration(c.Store.RetryBackoffMS) * time.Millisecond),
		Retryable:   taskstore.IsTransient,
	}
}

// NotionConfig converts the store section for the notion backend
func (c *Config) NotionConfig() notion.Config {
	return notion.Config{
		Token:      c.Store.NotionToken,
		DatabaseID: c.Store.NotionDatabaseID,
		Timeout:    seconds(c.Store.TimeoutSec),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskrunner", "config.toml")
}

// LocalConfigName is the project-local config file searched upwards from
// the working directory.
const LocalConfigName = ".taskrunner.toml"

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName and returns its path, or "" when none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads path when given, else the nearest local
// config, else the user config.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path == "" {
		path = FindLocalConfig()
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	return Load(path)
}
