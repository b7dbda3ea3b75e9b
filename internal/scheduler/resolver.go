package scheduler

import (
	"context"
	"sort"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// Resolver decides whether a task's dependencies allow it to start.
// Every call reads dependency status fresh from the store.
type Resolver struct {
	store  taskstore.Gateway
	logger *logging.Logger
}

// NewResolver creates a Resolver
func NewResolver(store taskstore.Gateway, logger *logging.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.With("resolver")}
}

// CanStart reports whether every dependency of task is Done. Lookup
// failures count as not runnable.
func (r *Resolver) CanStart(ctx context.Context, task *domain.Task) bool {
	for _, depID := range task.DependsOn {
		dep, err := r.store.GetTask(ctx, depID)
		if err != nil {
			r.logger.Warnf("task %s: dependency %s lookup failed: %v", task.ID, depID, err)
			return false
		}
		if dep.Status != domain.StatusDone {
			r.logger.Debugf("task %s: waiting on %s (%s)", task.ID, depID, dep.Status)
			return false
		}
	}
	return true
}

// Partition splits candidates into runnable and waiting tasks. Both slices
// are ordered by priority, ties broken by last modification.
func (r *Resolver) Partition(ctx context.Context, candidates []*domain.Task) (runnable, waiting []*domain.Task) {
	ordered := make([]*domain.Task, len(candidates))
	copy(ordered, candidates)
	SortByPriority(ordered)

	for _, task := range ordered {
		if r.CanStart(ctx, task) {
			runnable = append(runnable, task)
		} else {
			waiting = append(waiting, task)
		}
	}
	return runnable, waiting
}

// SortByPriority orders tasks by ascending priority then ascending
// last modification time.
func SortByPriority(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].LastModified.Before(tasks[j].LastModified)
	})
}
