// Package scheduler runs single passes over the Ready tasks of the store.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/policy"
	"github.com/mifrun/task-runner/internal/taskstore"
)

const (
	DefaultBatchSize = 10
	DefaultThrottle  = time.Second
)

// Executor runs a decoded payload
type Executor interface {
	Execute(ctx context.Context, payload domain.Payload) (executor.Result, error)
}

// Config controls a pass
type Config struct {
	// BatchSize caps how many Ready tasks are fetched per pass
	BatchSize int
	// Throttle is the pause between consecutive executions
	Throttle time.Duration
}

// Summary describes the outcome of one pass
type Summary struct {
	RunID    string
	Selected int
	Done     int
	Failed   int
	Skipped  int
	Waiting  int
	Failures []Failure
	Duration time.Duration
}

// Failure names a task that ended Failed in a pass
type Failure struct {
	TaskID string
	Title  string
	Reason string
}

// Outcome is the result of attempting one task
type Outcome struct {
	Status domain.Status
	Logs   string
	Err    error
}

// Runner executes Ready tasks one at a time
type Runner struct {
	store    taskstore.Gateway
	resolver *Resolver
	policy   *policy.Policy
	exec     Executor
	cfg      Config
	logger   *logging.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewRunner creates a Runner
func NewRunner(store taskstore.Gateway, p *policy.Policy, exec Executor, cfg Config, logger *logging.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	return &Runner{
		store:    store,
		resolver: NewResolver(store, logger),
		policy:   p,
		exec:     exec,
		cfg:      cfg,
		logger:   logger.With("runner"),
		sleep:    sleepCtx,
	}
}

// Pass processes the currently visible Ready tasks once. Only a failed
// candidate query aborts the pass; per-task errors end up on the task.
func (r *Runner) Pass(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()[:8]}

	candidates, err := r.store.QueryReady(ctx, r.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("querying ready tasks: %w", err)
	}
	summary.Selected = len(candidates)

	runnable, waiting := r.resolver.Partition(ctx, candidates)
	summary.Waiting = len(waiting)
	r.logger.Infof("run %s: %d candidates, %d runnable, %d waiting",
		summary.RunID, len(candidates), len(runnable), len(waiting))

	executed := 0
	for _, task := range runnable {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if task.AttemptsExhausted() {
			r.logger.Infof("task %s: attempts exhausted (%d/%d), skipping",
				task.ID, task.Attempts, task.EffectiveMaxAttempts())
			summary.Skipped++
			continue
		}

		if executed > 0 && r.cfg.Throttle > 0 {
			r.sleep(ctx, r.cfg.Throttle)
		}
		executed++

		outcome, claimed := r.runTask(ctx, task)
		if !claimed {
			summary.Skipped++
			continue
		}
		switch outcome.Status {
		case domain.StatusDone:
			summary.Done++
		default:
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				TaskID: task.ID,
				Title:  task.Title,
				Reason: domain.Truncate(outcome.Logs, 200),
			})
		}
	}

	summary.Duration = time.Since(start)
	r.logger.Infof("run %s finished: done=%d failed=%d skipped=%d waiting=%d",
		summary.RunID, summary.Done, summary.Failed, summary.Skipped, summary.Waiting)
	return summary, nil
}

// runTask claims a task, executes it and records the outcome. The second
// return is false when the task cannot move to Running or the claim could
// not be written.
func (r *Runner) runTask(ctx context.Context, task *domain.Task) (Outcome, bool) {
	if !task.Status.CanTransition(domain.StatusRunning) {
		r.logger.Warnf("task %s: cannot start from %s", task.ID, task.Status)
		return Outcome{}, false
	}
	if err := r.store.IncrementAttempts(ctx, task.ID, task.Attempts); err != nil {
		r.logger.Warnf("task %s: incrementing attempts: %v", task.ID, err)
	}

	if err := r.store.UpdateStatus(ctx, task.ID, domain.StatusRunning, ""); err != nil {
		r.logger.Warnf("task %s: claiming: %v", task.ID, err)
		return Outcome{}, false
	}

	r.logger.Infof("task %s: running %s (%q, attempt %d/%d)",
		task.ID, task.Action, task.Title, task.Attempts+1, task.EffectiveMaxAttempts())

	outcome := r.attempt(ctx, task)
	if outcome.Err != nil {
		r.logger.Warnf("task %s: %v", task.ID, outcome.Err)
	}

	if err := r.store.UpdateStatus(ctx, task.ID, outcome.Status, outcome.Logs); err != nil {
		r.logger.Errorf("task %s: recording %s: %v", task.ID, outcome.Status, err)
	} else {
		r.logger.Infof("task %s: %s", task.ID, outcome.Status)
	}
	return outcome, true
}

// attempt converts everything that can go wrong with one task into an Outcome
func (r *Runner) attempt(ctx context.Context, task *domain.Task) Outcome {
	if !r.policy.IsActionAllowed(task.Action) {
		return failed(executor.NotAllowed(task.Action))
	}

	payload, err := domain.DecodePayload(task.Action, task.Payload)
	if err != nil {
		return failed(executor.Malformed(err))
	}

	res, err := r.exec.Execute(ctx, payload)
	if err != nil {
		return failed(err)
	}
	if res.Success() {
		return Outcome{Status: domain.StatusDone, Logs: res.Output}
	}
	return Outcome{Status: domain.StatusFailed, Logs: res.Output}
}

func failed(err error) Outcome {
	return Outcome{Status: domain.StatusFailed, Logs: "Error: " + err.Error(), Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
