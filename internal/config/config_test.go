package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mifrun/task-runner/internal/batch"
	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/logging"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Store.RetryAttempts != 5 {
		t.Errorf("Store.RetryAttempts = %d, want 5", cfg.Store.RetryAttempts)
	}
	if cfg.Executor.ScriptTimeoutSec != 300 {
		t.Errorf("Executor.ScriptTimeoutSec = %d, want 300", cfg.Executor.ScriptTimeoutSec)
	}
	if cfg.Generator.Provider != "openai" {
		t.Errorf("Generator.Provider = %q, want openai", cfg.Generator.Provider)
	}
	if cfg.Scheduler.BatchSize != 10 || cfg.Scheduler.ThrottleMS != 1000 {
		t.Errorf("Scheduler = %+v, want batch 10 throttle 1000ms", cfg.Scheduler)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generator.MaxTokens != 1200 {
		t.Errorf("MaxTokens = %d, want 1200", cfg.Generator.MaxTokens)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[general]
project_root = "/test/project"
log_level = "debug"

[store]
backend = "notion"
notion_database_id = "db-123"

[policy]
scripts = ["deploy.sh"]
urls = ["https://hooks.example/run"]

[executor]
script_timeout_sec = 60
codex_enabled = true

[scheduler]
throttle_ms = 250

[generator]
provider = "anthropic"
model = "claude-sonnet-4-5"

[[schedule.batch]]
name = "nightly"
cron = "0 2 * * *"
steps = ["work"]
passes = 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ProjectRoot != "/test/project" {
		t.Errorf("ProjectRoot = %q, want /test/project", cfg.General.ProjectRoot)
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel())
	}
	if cfg.Store.Backend != BackendNotion || cfg.Store.NotionDatabaseID != "db-123" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.RetryAttempts != 5 {
		t.Errorf("unset fields keep defaults, RetryAttempts = %d", cfg.Store.RetryAttempts)
	}
	if got := cfg.ExecutorConfig().ScriptTimeout; got != time.Minute {
		t.Errorf("ScriptTimeout = %v, want 1m", got)
	}
	if !cfg.Executor.CodexEnabled {
		t.Error("CodexEnabled should be true")
	}
	if got := cfg.SchedulerConfig().Throttle; got != 250*time.Millisecond {
		t.Errorf("Throttle = %v, want 250ms", got)
	}

	p := cfg.PolicyConfig()
	if len(p.Scripts) != 1 || p.Scripts[0] != "deploy.sh" {
		t.Errorf("Scripts = %v", p.Scripts)
	}
	if len(p.Actions) != 3 || p.Actions[2] != domain.ActionCodexApply {
		t.Errorf("Actions = %v", p.Actions)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfg.Schedule.Batches) != 1 {
		t.Fatalf("Batches = %d, want 1", len(cfg.Schedule.Batches))
	}
	b := cfg.Schedule.Batches[0]
	if b.Name != "nightly" || b.Passes != 3 || b.MaxDurationMinutes != 60 {
		t.Errorf("batch = %+v", b)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "[store\nbackend=")); err == nil {
		t.Error("invalid TOML should error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvNotionToken, "secret_abc")
	t.Setenv(EnvNotionDatabase, "db-env")
	t.Setenv(EnvOpenAIKey, "sk-openai")
	t.Setenv(EnvAnthropicKey, "sk-ant")
	t.Setenv(EnvDatabasePath, "/tmp/env.db")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Store.NotionToken != "secret_abc" || cfg.Store.NotionDatabaseID != "db-env" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.DatabasePath != "/tmp/env.db" {
		t.Errorf("DatabasePath = %q", cfg.Store.DatabasePath)
	}
	if cfg.Generator.APIKey != "sk-openai" {
		t.Errorf("APIKey = %q, want the openai key", cfg.Generator.APIKey)
	}

	cfg.Generator.Provider = "anthropic"
	cfg.ApplyEnv()
	if cfg.Generator.APIKey != "sk-ant" {
		t.Errorf("APIKey = %q, want the anthropic key", cfg.Generator.APIKey)
	}
	if nc := cfg.NotionConfig(); nc.Token != "secret_abc" || nc.Timeout != 20*time.Second {
		t.Errorf("NotionConfig() = %+v", nc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"notion without database", func(c *Config) { c.Store.Backend = BackendNotion }},
		{"sqlite without path", func(c *Config) { c.Store.DatabasePath = "" }},
		{"unknown provider", func(c *Config) { c.Generator.Provider = "llama" }},
		{"unknown action", func(c *Config) { c.Policy.Actions = []string{"rm"} }},
		{"negative throttle", func(c *Config) { c.Scheduler.ThrottleMS = -1 }},
		{"bad cron", func(c *Config) {
			c.Schedule.Batches = append(c.Schedule.Batches, batchWithCron("nope"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestRetryPolicies(t *testing.T) {
	cfg := Default()

	store := cfg.StoreRetry()
	if store.MaxAttempts != 5 || store.Backoff(2) != 1600*time.Millisecond {
		t.Errorf("store retry = %d attempts, backoff(2) = %v", store.MaxAttempts, store.Backoff(2))
	}
	gen := cfg.GeneratorRetry()
	if gen.Backoff(3) != 4*time.Second {
		t.Errorf("generator backoff(3) = %v, want 4s", gen.Backoff(3))
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[general]\nproject_root = \"/local\""), 0644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(subdir)

	if found := FindLocalConfig(); found != localConfig {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.ProjectRoot != "/local" {
		t.Errorf("ProjectRoot = %q, want /local", cfg.General.ProjectRoot)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	path := writeTempConfig(t, "[general]\nproject_root = \"/explicit\"\n")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.ProjectRoot != "/explicit" {
		t.Errorf("ProjectRoot = %q, want /explicit", cfg.General.ProjectRoot)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func batchWithCron(expr string) batch.BatchConfig {
	return batch.BatchConfig{Name: "b", Cron: expr}
}
