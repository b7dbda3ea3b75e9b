package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/policy"
)

func newTestRunner(store *memStore, exec Executor) (*Runner, *[]time.Duration) {
	r := NewRunner(store, policy.Default(), exec, Config{Throttle: time.Second}, logging.Discard())
	var sleeps []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) { sleeps = append(sleeps, d) }
	return r, &sleeps
}

func scriptTask(id string, priority int) *domain.Task {
	return &domain.Task{
		ID:       id,
		Title:    id,
		Status:   domain.StatusReady,
		Action:   domain.ActionRunScript,
		Payload:  `{"cmd":"build.sh"}`,
		Priority: priority,
	}
}

func TestRunner_Pass_DoneAndFailed(t *testing.T) {
	store := newMemStore(scriptTask("a", 1))
	exec := &fakeExecutor{result: executor.Result{Code: 0, Output: "ok\n"}}
	r, _ := newTestRunner(store, exec)

	summary, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, 1, summary.Done)
	assert.NotEmpty(t, summary.RunID)
	got := store.task("a")
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, "ok\n", got.Logs)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []domain.Status{domain.StatusRunning, domain.StatusDone}, store.transitions["a"])

	store = newMemStore(scriptTask("b", 1))
	exec = &fakeExecutor{result: executor.Result{Code: 503, Output: "503 unavailable"}}
	r, _ = newTestRunner(store, exec)

	summary, err = r.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "b", summary.Failures[0].TaskID)
	assert.Equal(t, domain.StatusFailed, store.task("b").Status)
	assert.Equal(t, "503 unavailable", store.task("b").Logs)
}

func TestRunner_RunTaskOnlyStartsFromReadyOrDraft(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusRunning, domain.StatusDone, domain.StatusFailed} {
		task := scriptTask("a", 1)
		task.Status = status
		store := newMemStore(task)
		exec := &fakeExecutor{result: executor.Result{Code: 0}}
		r, _ := newTestRunner(store, exec)

		cp := *task
		_, claimed := r.runTask(context.Background(), &cp)

		assert.False(t, claimed, "status %s", status)
		assert.Empty(t, exec.calls, "status %s", status)
		assert.Empty(t, store.transitions["a"], "status %s", status)
		assert.Equal(t, 0, store.task("a").Attempts, "status %s", status)
	}
}

func TestRunner_Pass_ExecutorErrorBecomesFailed(t *testing.T) {
	store := newMemStore(scriptTask("a", 1), scriptTask("b", 2))
	exec := &fakeExecutor{err: &executor.ActionError{Kind: executor.ErrExecutionTimeout, Msg: "script exceeded 300s"}}
	r, _ := newTestRunner(store, exec)

	summary, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, exec.calls, 2, "one failure must not abort the pass")
	assert.Equal(t, "Error: execution timeout: script exceeded 300s", store.task("a").Logs)
}

func TestRunner_Pass_PriorityOrderAndThrottle(t *testing.T) {
	store := newMemStore(scriptTask("low", 50), scriptTask("high", 1), scriptTask("mid", 10))
	var order []string
	exec := &fakeExecutor{}
	exec.onExecute = func(domain.Payload) {
		for _, id := range []string{"low", "high", "mid"} {
			if store.tasks[id].Status == domain.StatusRunning {
				order = append(order, id)
			}
		}
	}
	r, sleeps := newTestRunner(store, exec)

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "mid", "low"}, order)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)
}

func TestRunner_AttemptsNeverExceedMax(t *testing.T) {
	task := scriptTask("flaky", 1)
	task.MaxAttempts = 2
	store := newMemStore(task)
	exec := &fakeExecutor{result: executor.Result{Code: 1, Output: "boom"}}
	r, _ := newTestRunner(store, exec)

	for pass := 0; pass < 4; pass++ {
		_, err := r.Pass(context.Background())
		require.NoError(t, err)
		store.reset("flaky")
		assert.LessOrEqual(t, store.task("flaky").Attempts, 2)
	}

	assert.Equal(t, 2, store.task("flaky").Attempts)
	assert.Len(t, exec.calls, 2)

	summary, err := r.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, store.transitions["flaky"][4:], "exhausted task must not be claimed")
}

func TestRunner_DependenciesGateRunning(t *testing.T) {
	dep := scriptTask("dep", 1)
	dep.Status = domain.StatusDraft
	child := scriptTask("child", 1)
	child.DependsOn = []string{"dep"}
	store := newMemStore(dep, child)

	exec := &fakeExecutor{}
	exec.onExecute = func(domain.Payload) {
		if store.tasks["child"].Status == domain.StatusRunning {
			assert.Equal(t, domain.StatusDone, store.tasks["dep"].Status)
		}
	}
	r, _ := newTestRunner(store, exec)

	summary, err := r.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Waiting)
	assert.Empty(t, store.transitions["child"])
	assert.Equal(t, domain.StatusReady, store.task("child").Status)

	store.tasks["dep"].Status = domain.StatusDone
	summary, err = r.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, domain.StatusDone, store.task("child").Status)
}

func TestRunner_ActionNotAllowedNeverReachesExecutor(t *testing.T) {
	task := scriptTask("codex", 1)
	task.Action = domain.ActionCodexApply
	task.Payload = `{"spec":"refactor"}`
	other := scriptTask("bogus", 2)
	other.Action = "drop_database"
	store := newMemStore(task, other)

	exec := &fakeExecutor{}
	p := policy.New(policy.Config{Actions: []domain.Action{domain.ActionRunScript, domain.ActionCallAPI}})
	r := NewRunner(store, p, exec, Config{}, logging.Discard())
	r.sleep = func(context.Context, time.Duration) {}

	summary, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, exec.calls)
	assert.True(t, strings.HasPrefix(store.task("codex").Logs, "Error: action not allowed"))
	assert.True(t, strings.HasPrefix(store.task("bogus").Logs, "Error: action not allowed"))
}

func TestRunner_MalformedPayload(t *testing.T) {
	task := scriptTask("api", 1)
	task.Action = domain.ActionCallAPI
	task.Payload = `{"method":"POST"}`
	store := newMemStore(task)
	exec := &fakeExecutor{}
	r, _ := newTestRunner(store, exec)

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	assert.Empty(t, exec.calls)
	assert.Equal(t, domain.StatusFailed, store.task("api").Status)
	assert.Equal(t, "Error: malformed payload: missing url", store.task("api").Logs)
}

func TestRunner_StoreFailures(t *testing.T) {
	t.Run("query failure aborts the pass", func(t *testing.T) {
		store := newMemStore(scriptTask("a", 1))
		store.queryErr = errors.New("connection refused")
		r, _ := newTestRunner(store, &fakeExecutor{})

		_, err := r.Pass(context.Background())
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("increment failure is swallowed", func(t *testing.T) {
		store := newMemStore(scriptTask("a", 1))
		store.incrementErr = errors.New("rate limited")
		exec := &fakeExecutor{}
		r, _ := newTestRunner(store, exec)

		summary, err := r.Pass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Done)
		assert.Len(t, exec.calls, 1)
	})

	t.Run("claim failure skips the task", func(t *testing.T) {
		store := newMemStore(scriptTask("a", 1), scriptTask("b", 2))
		store.claimErr["a"] = errors.New("conflict")
		exec := &fakeExecutor{}
		r, _ := newTestRunner(store, exec)

		summary, err := r.Pass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 1, summary.Done)
		assert.Len(t, exec.calls, 1)
		assert.Equal(t, domain.StatusReady, store.task("a").Status)
	})
}

// Scenarios against the real executor

func realExecutor(t *testing.T, shell string) *executor.Executor {
	t.Helper()
	work := t.TempDir()
	dir := filepath.Join(work, "tasks")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.sh"), []byte("#!/bin/sh\necho compiled\necho linted >&2\n"), 0755))
	return executor.New(policy.Default(), executor.Config{
		WorkDir:    work,
		ScriptsDir: "tasks",
		Shell:      shell,
	}, logging.Discard())
}

func TestScenario_BuildScriptSucceeds(t *testing.T) {
	store := newMemStore(scriptTask("build", 1))
	r, _ := newTestRunner(store, realExecutor(t, "/bin/sh"))

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	got := store.task("build")
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Contains(t, got.Logs, "compiled")
	assert.Contains(t, got.Logs, "linted")
}

func TestScenario_MultiTokenCommandRejected(t *testing.T) {
	task := scriptTask("wipe", 1)
	task.Payload = `{"cmd":"rm -rf /"}`
	store := newMemStore(task)
	// A shell that does not exist proves nothing is spawned
	r, _ := newTestRunner(store, realExecutor(t, "/nonexistent/shell"))

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	got := store.task("wipe")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Logs, "malformed payload")
}

func TestScenario_DisallowedURLIssuesNoRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	task := scriptTask("hook", 1)
	task.Action = domain.ActionCallAPI
	task.Payload = `{"url":"` + srv.URL + `/hook"}`
	store := newMemStore(task)
	r, _ := newTestRunner(store, realExecutor(t, "/bin/sh"))

	_, err := r.Pass(context.Background())
	require.NoError(t, err)

	got := store.task("hook")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Logs, "url not allowed")
	assert.Zero(t, atomic.LoadInt32(&hits))
}
