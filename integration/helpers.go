//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// WorkDir creates a working directory with a tasks/ folder holding the
// given scripts (name -> body)
func WorkDir(t *testing.T, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		t.Fatalf("Failed to create tasks dir: %v", err)
	}
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(tasksDir, name), []byte(body), 0755); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

// WriteFile writes content to a temp file and returns its path
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// Manifest is a task manifest exercising ordering and dependencies
const Manifest = `
tasks:
  - key: build
    title: Build site
    action: run_script
    payload:
      cmd: build.sh
    priority: 1
  - key: sync
    title: Sync data
    action: run_script
    payload:
      cmd: sync_data.sh
    priority: 2
    depends_on: [build]
  - key: wipe
    title: Wipe disk
    action: run_script
    payload:
      cmd: rm -rf /
    priority: 3
`

// Scripts are the allow-listed scripts the manifest refers to
var Scripts = map[string]string{
	"build.sh":     "echo compiled\n",
	"sync_data.sh": "echo synced\nexit 0\n",
}
