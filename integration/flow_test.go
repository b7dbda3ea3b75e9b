//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/executor"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/policy"
	"github.com/mifrun/task-runner/internal/scheduler"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// TestFlow_ManifestToDone tests the full local pipeline:
// manifest -> taskstore -> runner passes with the real executor
func TestFlow_ManifestToDone(t *testing.T) {
	ctx := context.Background()

	store, err := taskstore.New(TempDBPath(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	manifest, err := taskstore.ParseManifest(strings.NewReader(Manifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	res, err := manifest.Apply(ctx, store)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	p := policy.Default()
	exec := executor.New(p, executor.Config{
		WorkDir:    WorkDir(t, Scripts),
		ScriptsDir: "tasks",
		Shell:      "/bin/sh",
	}, logging.Discard())
	runner := scheduler.NewRunner(store, p, exec, scheduler.Config{Throttle: time.Millisecond}, logging.Discard())

	// Pass 1: build runs, sync waits on build, wipe is rejected
	summary, err := runner.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass 1 failed: %v", err)
	}
	if summary.Selected != 3 || summary.Done != 1 || summary.Failed != 1 || summary.Waiting != 1 {
		t.Errorf("Pass 1 = %+v, want selected=3 done=1 failed=1 waiting=1", summary)
	}

	// Pass 2: sync's dependency is Done now
	summary, err = runner.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass 2 failed: %v", err)
	}
	if summary.Done != 1 || summary.Waiting != 0 {
		t.Errorf("Pass 2 = %+v, want done=1 waiting=0", summary)
	}

	want := map[string]domain.Status{
		"build": domain.StatusDone,
		"sync":  domain.StatusDone,
		"wipe":  domain.StatusFailed,
	}
	for key, status := range want {
		task, err := store.GetTask(ctx, res.TaskIDs[key])
		if err != nil {
			t.Fatalf("GetTask(%s) failed: %v", key, err)
		}
		if task.Status != status {
			t.Errorf("%s status = %s, want %s", key, task.Status, status)
		}
		if task.Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", key, task.Attempts)
		}
	}

	build, _ := store.GetTask(ctx, res.TaskIDs["build"])
	if !strings.Contains(build.Logs, "compiled") {
		t.Errorf("build logs = %q, want script output", build.Logs)
	}
	wipe, _ := store.GetTask(ctx, res.TaskIDs["wipe"])
	if !strings.HasPrefix(wipe.Logs, "Error: ") {
		t.Errorf("wipe logs = %q, want Error: prefix", wipe.Logs)
	}

	entries, err := store.Logs(ctx, res.TaskIDs["build"])
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Status != domain.StatusDone {
		t.Errorf("build log history = %+v, want last entry Done", entries)
	}

	// Pass 3: nothing Ready remains
	summary, err = runner.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass 3 failed: %v", err)
	}
	if summary.Selected != 0 {
		t.Errorf("Pass 3 selected = %d, want 0", summary.Selected)
	}
}

// TestFlow_FailedDependencyBlocks tests that a dependent never runs while
// its dependency is Failed
func TestFlow_FailedDependencyBlocks(t *testing.T) {
	ctx := context.Background()

	store, err := taskstore.New(TempDBPath(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	manifest, err := taskstore.ParseManifest(strings.NewReader(`
tasks:
  - {key: build, title: Build, action: run_script, payload: {cmd: build.sh}, max_attempts: 1}
  - {key: sync, title: Sync, action: run_script, payload: {cmd: sync_data.sh}, depends_on: [build]}
`))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	res, err := manifest.Apply(ctx, store)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	p := policy.Default()
	exec := executor.New(p, executor.Config{
		WorkDir:    WorkDir(t, map[string]string{"build.sh": "exit 3\n", "sync_data.sh": "echo synced\n"}),
		ScriptsDir: "tasks",
		Shell:      "/bin/sh",
	}, logging.Discard())
	runner := scheduler.NewRunner(store, p, exec, scheduler.Config{}, logging.Discard())

	for i := 0; i < 3; i++ {
		if _, err := runner.Pass(ctx); err != nil {
			t.Fatalf("Pass %d failed: %v", i+1, err)
		}
	}

	build, _ := store.GetTask(ctx, res.TaskIDs["build"])
	if build.Status != domain.StatusFailed {
		t.Errorf("build status = %s, want Failed", build.Status)
	}
	sync, _ := store.GetTask(ctx, res.TaskIDs["sync"])
	if sync.Status != domain.StatusReady || sync.Attempts != 0 {
		t.Errorf("sync = %s/%d attempts, want Ready/0", sync.Status, sync.Attempts)
	}
}
