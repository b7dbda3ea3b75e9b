package batch

import (
	"fmt"
	"time"
)

// Steps a batch may run, in execution order
const (
	StepDecompose = "decompose"
	StepWork      = "work"
)

const (
	defaultPasses      = 1
	defaultMaxDuration = 60 // minutes
)

// BatchConfig represents a scheduled batch configuration
type BatchConfig struct {
	Name  string   `toml:"name"`
	Cron  string   `toml:"cron"`
	Steps []string `toml:"steps"`
	// Passes is how many scheduler passes the work step runs
	Passes             int `toml:"passes"`
	MaxDurationMinutes int `toml:"max_duration_minutes"`
}

// ScheduleConfig holds all batch configurations
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// MaxDuration bounds a single batch run
func (c BatchConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// Deadline is when a batch started at start stops beginning new passes.
// Zero means unbounded.
func (c BatchConfig) Deadline(start time.Time) time.Time {
	if c.MaxDurationMinutes <= 0 {
		return time.Time{}
	}
	return start.Add(c.MaxDuration())
}

// Runs reports whether step is part of the batch
func (c BatchConfig) Runs(step string) bool {
	for _, s := range c.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// Validate checks if the config is valid and fills defaults
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if len(c.Steps) == 0 {
		c.Steps = []string{StepDecompose, StepWork}
	}
	for _, s := range c.Steps {
		if s != StepDecompose && s != StepWork {
			return fmt.Errorf("unknown step %q", s)
		}
	}
	if c.Passes <= 0 {
		c.Passes = defaultPasses
	}
	if c.MaxDurationMinutes <= 0 {
		c.MaxDurationMinutes = defaultMaxDuration
	}
	return nil
}

// Validate checks every batch
func (c *ScheduleConfig) Validate() error {
	seen := make(map[string]bool, len(c.Batches))
	for i := range c.Batches {
		if err := c.Batches[i].Validate(); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[c.Batches[i].Name] {
			return fmt.Errorf("batch %q defined twice", c.Batches[i].Name)
		}
		seen[c.Batches[i].Name] = true
	}
	return nil
}
