package taskstore

import (
	"context"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/retry"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 800 * time.Millisecond
)

// DefaultRetryPolicy retries transient store errors with linear backoff
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultRetryAttempts,
		Backoff:     retry.Linear(DefaultRetryBackoff),
		Retryable:   IsTransient,
	}
}

type retrying struct {
	inner  Gateway
	policy retry.Policy
}

// WithRetry wraps every Gateway call in the given retry policy
func WithRetry(g Gateway, p retry.Policy, logger *logging.Logger) Gateway {
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	log := logger.With("store")
	if p.OnRetry == nil {
		p.OnRetry = func(attempt int, err error) {
			log.Warnf("call failed (attempt %d/%d): %v", attempt, p.MaxAttempts, err)
		}
	}
	return &retrying{inner: g, policy: p}
}

func (r *retrying) QueryReady(ctx context.Context, limit int) ([]*domain.Task, error) {
	var out []*domain.Task
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.QueryReady(ctx, limit)
		return err
	})
	return out, err
}

func (r *retrying) QueryReadyEpics(ctx context.Context, limit int) ([]*domain.Epic, error) {
	var out []*domain.Epic
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.QueryReadyEpics(ctx, limit)
		return err
	})
	return out, err
}

func (r *retrying) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var out *domain.Task
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetTask(ctx, id)
		return err
	})
	return out, err
}

func (r *retrying) UpdateStatus(ctx context.Context, id string, status domain.Status, logs string) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.UpdateStatus(ctx, id, status, logs)
	})
}

func (r *retrying) IncrementAttempts(ctx context.Context, id string, current int) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.IncrementAttempts(ctx, id, current)
	})
}

func (r *retrying) CreateTask(ctx context.Context, task domain.NewTask) (string, error) {
	var id string
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		id, err = r.inner.CreateTask(ctx, task)
		return err
	})
	return id, err
}
