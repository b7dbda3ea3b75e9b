// Package batch runs configured batches on cron schedules.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mifrun/task-runner/internal/logging"
)

// DefaultTick is how often schedules are evaluated
const DefaultTick = time.Minute

// RunFunc executes one batch. ctx is only cancelled on shutdown; the batch's
// MaxDuration is for fn to enforce between passes.
type RunFunc func(ctx context.Context, cfg BatchConfig) error

// Scheduler manages scheduled batch runs. A batch never overlaps itself.
type Scheduler struct {
	configs map[string]BatchConfig
	parser  cron.Parser
	lastRun map[string]time.Time
	running map[string]bool
	mu      sync.RWMutex
	tick    time.Duration
	now     func() time.Time
	logger  *logging.Logger
}

// NewScheduler creates a new batch scheduler
func NewScheduler(configs []BatchConfig, logger *logging.Logger) (*Scheduler, error) {
	s := &Scheduler{
		configs: make(map[string]BatchConfig),
		parser:  newParser(),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		tick:    DefaultTick,
		now:     time.Now,
		logger:  logger.With("batch"),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.configs[cfg.Name] = cfg
	}

	return s, nil
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return newParser().Parse(expr)
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if a batch is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok || s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return false
	}

	now := s.now()
	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = now.Add(-24 * time.Hour)
	}

	return now.After(sched.Next(lastRun))
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (BatchConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run evaluates schedules every tick until ctx is done. Due batches run one
// after another on the calling goroutine, so at most one batch is active.
func (s *Scheduler) Run(ctx context.Context, fn RunFunc) error {
	s.dispatch(ctx, fn)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.dispatch(ctx, fn)
		}
	}
}

// dispatch runs every due batch in name order
func (s *Scheduler) dispatch(ctx context.Context, fn RunFunc) {
	for _, name := range s.ListBatches() {
		if ctx.Err() != nil {
			return
		}
		if !s.ShouldRun(name) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.runOne(ctx, cfg, fn)
	}
}

func (s *Scheduler) runOne(ctx context.Context, cfg BatchConfig, fn RunFunc) {
	s.MarkRunning(cfg.Name)
	defer s.MarkComplete(cfg.Name)
	s.logger.Infof("starting batch %s", cfg.Name)

	start := s.now()
	if err := fn(ctx, cfg); err != nil {
		s.logger.Errorf("batch %s failed: %v", cfg.Name, err)
		return
	}
	s.logger.Infof("batch %s finished in %s", cfg.Name, s.now().Sub(start).Round(time.Second))
}
