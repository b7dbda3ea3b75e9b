//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	// Look for the binary in common locations
	paths := []string{
		"../taskrunner",
		"./taskrunner",
		filepath.Join(os.Getenv("GOPATH"), "bin", "taskrunner"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	// Try to build it
	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../taskrunner", "../cmd/taskrunner")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../taskrunner")
	return abs
}

// createTestConfig creates a temporary config file for testing
func createTestConfig(t *testing.T, workDir, dbPath string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := `[general]
log_level = "warn"

[store]
backend = "sqlite"
database_path = "` + dbPath + `"
retry_attempts = 1

[policy]
scripts = ["build.sh", "sync_data.sh"]

[executor]
work_dir = "` + workDir + `"
scripts_dir = "tasks"
shell = "/bin/sh"

[scheduler]
throttle_ms = 0
`

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return configPath
}

// run executes the binary with an isolated environment
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), args...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(os.Environ(), "HOME="+t.TempDir(), "TASKRUNNER_DB=", "NOTION_TOKEN=secret-test-token")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// TestCLI_AddWorkList tests the add, work, list and logs commands together
func TestCLI_AddWorkList(t *testing.T) {
	dbPath := TempDBPath(t)
	configPath := createTestConfig(t, WorkDir(t, Scripts), dbPath)
	manifestPath := WriteFile(t, "tasks.yaml", Manifest)

	out, err := run(t, "add", manifestPath, "--config", configPath)
	if err != nil {
		t.Fatalf("add command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added 0 epics, 3 tasks") {
		t.Errorf("Expected 'Added 0 epics, 3 tasks' in output, got: %s", out)
	}

	out, err = run(t, "work", "--passes", "3", "--config", configPath)
	if err != nil {
		t.Fatalf("work command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 selected | 1 done | 1 failed") {
		t.Errorf("Expected first pass summary in output, got: %s", out)
	}

	out, err = run(t, "list", "--status", "Done", "--config", configPath)
	if err != nil {
		t.Fatalf("list command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Build site") || !strings.Contains(out, "Sync data") {
		t.Errorf("Expected both scripts listed as Done, got: %s", out)
	}
	if strings.Contains(out, "Wipe disk") {
		t.Errorf("Failed task should not be listed as Done, got: %s", out)
	}

	out, err = run(t, "list", "--status", "Failed", "--config", configPath)
	if err != nil {
		t.Fatalf("list command failed: %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one failed task, got: %s", out)
	}
	id := strings.Fields(lines[1])[0]

	out, err = run(t, "logs", id, "--config", configPath)
	if err != nil {
		t.Fatalf("logs command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "malformed payload") {
		t.Errorf("Expected rejection reason in logs, got: %s", out)
	}
}

// TestCLI_InvalidCommand tests the error for an unknown command
func TestCLI_InvalidCommand(t *testing.T) {
	out, err := run(t, "invalidcommand")

	// Should return error
	if err == nil {
		t.Error("Expected error for invalid command")
	}

	// Should suggest valid commands or show help
	if !strings.Contains(out, "unknown command") && !strings.Contains(out, "Usage") {
		t.Errorf("Expected error message or usage info, got: %s", out)
	}
}

// TestCLI_UnknownBackend tests that an invalid store backend is rejected
func TestCLI_UnknownBackend(t *testing.T) {
	configPath := TempConfigPath(t)
	if err := os.WriteFile(configPath, []byte("[store]\nbackend = \"postgres\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "work", "--config", configPath)
	if err == nil {
		t.Error("Expected error for unknown backend")
	}
	if !strings.Contains(out, `unknown store backend "postgres"`) {
		t.Errorf("Expected error about the backend, got: %s", out)
	}
}

// TestCLI_ListRequiresSQLite tests that list refuses the notion backend
func TestCLI_ListRequiresSQLite(t *testing.T) {
	configPath := TempConfigPath(t)
	config := "[store]\nbackend = \"notion\"\nnotion_database_id = \"db-1\"\n"
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "list", "--config", configPath)
	if err == nil {
		t.Error("Expected error for list on the notion backend")
	}
	if !strings.Contains(out, "requires the sqlite store backend") {
		t.Errorf("Expected backend error, got: %s", out)
	}
}
