package taskstore

import (
	"context"
	"errors"

	"github.com/mifrun/task-runner/internal/domain"
)

// ErrNotFound is returned when a record id does not exist
var ErrNotFound = errors.New("record not found")

// Gateway is the query/update API of the remote task store. Implementations
// carry no business logic; every call is safe to repeat.
type Gateway interface {
	// QueryReady returns Ready tasks ordered by priority then last modification
	QueryReady(ctx context.Context, limit int) ([]*domain.Task, error)
	// QueryReadyEpics returns Ready epics in the same order
	QueryReadyEpics(ctx context.Context, limit int) ([]*domain.Epic, error)
	// GetTask reads a single record by id
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// UpdateStatus sets status and, when logs is non-empty, both log fields
	// plus an appended log entry.
	UpdateStatus(ctx context.Context, id string, status domain.Status, logs string) error
	// IncrementAttempts stores current+1 as the attempt counter
	IncrementAttempts(ctx context.Context, id string, current int) error
	// CreateTask persists a new task and returns its id
	CreateTask(ctx context.Context, task domain.NewTask) (string, error)
}

// IsTransient reports whether a store error may succeed on retry. Errors
// that know better expose Temporary(); missing records never heal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
