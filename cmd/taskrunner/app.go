package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mifrun/task-runner/internal/config"
	"github.com/mifrun/task-runner/internal/decompose"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/generate"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/notify"
	"github.com/mifrun/task-runner/internal/notion"
	"github.com/mifrun/task-runner/internal/policy"
	"github.com/mifrun/task-runner/internal/prompts"
	"github.com/mifrun/task-runner/internal/scheduler"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// app holds the components shared by every command
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	policy *policy.Policy
	store  taskstore.Gateway
	local  *taskstore.Store // nil for the notion backend
	loader *prompts.Loader
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.New(os.Stderr, cfg.LogLevel()),
		policy: policy.New(cfg.PolicyConfig()),
		loader: prompts.DefaultLoader(cfg.General.ProjectRoot),
	}

	var gw taskstore.Gateway
	switch cfg.Store.Backend {
	case config.BackendNotion:
		client, err := notion.New(cfg.NotionConfig())
		if err != nil {
			return nil, err
		}
		gw = client
	default:
		if dir := filepath.Dir(cfg.Store.DatabasePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err := taskstore.New(cfg.Store.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("opening task store: %w", err)
		}
		a.local = store
		gw = store
	}
	a.store = taskstore.WithRetry(gw, cfg.StoreRetry(), a.logger)

	return a, nil
}

func (a *app) Close() error {
	if a.local != nil {
		return a.local.Close()
	}
	return nil
}

// localStore returns the SQLite store for commands that only it supports
func (a *app) localStore() (*taskstore.Store, error) {
	if a.local == nil {
		return nil, fmt.Errorf("this command requires the %s store backend (configured: %s)",
			config.BackendSQLite, a.cfg.Store.Backend)
	}
	return a.local, nil
}

func (a *app) runner() *scheduler.Runner {
	exec := executor.New(a.policy, a.cfg.ExecutorConfig(), a.logger)
	return scheduler.NewRunner(a.store, a.policy, exec, a.cfg.SchedulerConfig(), a.logger)
}

func (a *app) pipeline() (*decompose.Pipeline, error) {
	gen, err := generate.New(a.cfg.GeneratorConfig())
	if err != nil {
		return nil, err
	}
	cfg := decompose.Config{
		EpicBatch: a.cfg.Scheduler.EpicBatch,
		Retry:     a.cfg.GeneratorRetry(),
	}
	return decompose.New(a.store, gen, a.policy, a.loader, cfg, a.logger), nil
}

func (a *app) notifier() notify.Notifier {
	if a.cfg.Notifications.SlackWebhook == "" {
		return notify.NoopNotifier{}
	}
	return notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook)
}
