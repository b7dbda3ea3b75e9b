package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// memStore is an in-memory Gateway with error injection
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
	order []string
	// transitions records every status write per task id
	transitions map[string][]domain.Status

	queryErr     error
	getErr       map[string]error
	incrementErr error
	claimErr     map[string]error
}

func newMemStore(tasks ...*domain.Task) *memStore {
	s := &memStore{
		tasks:       make(map[string]*domain.Task),
		transitions: make(map[string][]domain.Status),
		getErr:      make(map[string]error),
		claimErr:    make(map[string]error),
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, t := range tasks {
		if t.LastModified.IsZero() {
			t.LastModified = base.Add(time.Duration(i) * time.Minute)
		}
		if t.Payload == "" {
			t.Payload = "{}"
		}
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return s
}

func (s *memStore) QueryReady(ctx context.Context, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*domain.Task
	for _, id := range s.order {
		if t := s.tasks[id]; t.Status == domain.StatusReady {
			cp := *t
			out = append(out, &cp)
		}
	}
	SortByPriority(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) QueryReadyEpics(ctx context.Context, limit int) ([]*domain.Epic, error) {
	return nil, nil
}

func (s *memStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[id]; err != nil {
		return nil, err
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, taskstore.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status domain.Status, logs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == domain.StatusRunning {
		if err := s.claimErr[id]; err != nil {
			return err
		}
	}
	t, ok := s.tasks[id]
	if !ok {
		return taskstore.ErrNotFound
	}
	t.Status = status
	if logs != "" {
		t.Logs = domain.Truncate(logs, domain.MaxLogLen)
		t.LogsPlain = t.Logs
	}
	s.transitions[id] = append(s.transitions[id], status)
	return nil
}

func (s *memStore) IncrementAttempts(ctx context.Context, id string, current int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return s.incrementErr
	}
	s.tasks[id].Attempts = current + 1
	return nil
}

func (s *memStore) CreateTask(ctx context.Context, t domain.NewTask) (string, error) {
	return "", errors.New("not supported")
}

func (s *memStore) task(id string) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

// reset puts a task back to Ready, as an operator would after a failure
func (s *memStore) reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = domain.StatusReady
}

type execCall struct {
	Payload domain.Payload
}

// fakeExecutor returns canned results keyed by payload type
type fakeExecutor struct {
	calls  []execCall
	result executor.Result
	err    error
	// onExecute observes store state at execution time
	onExecute func(p domain.Payload)
}

func (f *fakeExecutor) Execute(ctx context.Context, p domain.Payload) (executor.Result, error) {
	f.calls = append(f.calls, execCall{Payload: p})
	if f.onExecute != nil {
		f.onExecute(p)
	}
	return f.result, f.err
}
