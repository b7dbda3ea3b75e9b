package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testEpicData() EpicData {
	return EpicData{
		Description:   "Ship a login page",
		Actions:       []string{"run_script", "call_api"},
		Scripts:       []string{"build.sh", "sync_data.sh"},
		URLs:          []string{"https://httpbin.org/post"},
		DefaultScript: "build.sh",
	}
}

func writeOverride(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "decompose"), 0755); err != nil {
		t.Fatalf("failed to create override dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, EpicTemplate), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write override: %v", err)
	}
}

func TestLoaderLoadEmbedded(t *testing.T) {
	loader := NewLoader()

	tmpl, meta, err := loader.LoadTemplate(EpicTemplate)
	if err != nil {
		t.Fatalf("failed to load epic template: %v", err)
	}
	if tmpl == nil {
		t.Fatal("template should not be nil")
	}
	if meta == nil {
		t.Fatal("epic template should have frontmatter metadata")
	}
	if meta.ID != "epic" {
		t.Errorf("expected ID 'epic', got '%s'", meta.ID)
	}
	if meta.MinTasks != 8 || meta.MaxTasks != 20 {
		t.Errorf("task bounds = %d..%d, want 8..20", meta.MinTasks, meta.MaxTasks)
	}
	if meta.System == "" {
		t.Error("system instruction should not be empty")
	}
}

func TestBuildEpicPrompt_Embedded(t *testing.T) {
	loader := NewLoader(t.TempDir())

	p, err := loader.BuildEpicPrompt(testEpicData())
	if err != nil {
		t.Fatalf("failed to build prompt: %v", err)
	}

	if p.System != "You generate only valid JSON arrays." {
		t.Errorf("System = %q", p.System)
	}
	for _, want := range []string{
		"8 to 20 atomic tasks",
		`"run_script", "call_api"`,
		"never use \"codex_apply\"",
		"build.sh, sync_data.sh",
		"https://httpbin.org/post",
		`{"cmd": "build.sh"}`,
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.HasSuffix(p.User, "Ship a login page") {
		t.Errorf("prompt should end with the description, got: %s", p.User)
	}
}

func TestBuildEpicPrompt_ExplicitBounds(t *testing.T) {
	data := testEpicData()
	data.MinTasks, data.MaxTasks = 3, 6

	p, err := NewLoader().BuildEpicPrompt(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.User, "3 to 6 atomic tasks") {
		t.Errorf("explicit bounds not used, got: %s", p.User)
	}
}

func TestLoaderOverride(t *testing.T) {
	tmpDir := t.TempDir()
	writeOverride(t, tmpDir, `---
system: CUSTOM SYSTEM
min_tasks: 5
max_tasks: 9
---
CUSTOM {{.MinTasks}}-{{.MaxTasks}}: {{.Description}}
`)

	p, err := NewLoader(tmpDir).BuildEpicPrompt(testEpicData())
	if err != nil {
		t.Fatalf("failed to build epic prompt: %v", err)
	}

	if p.System != "CUSTOM SYSTEM" {
		t.Errorf("System = %q, want override", p.System)
	}
	if p.User != "CUSTOM 5-9: Ship a login page" {
		t.Errorf("User = %q", p.User)
	}
}

func TestLoaderOverridePrecedence(t *testing.T) {
	projectDir := t.TempDir()
	userDir := t.TempDir()
	writeOverride(t, projectDir, `PROJECT OVERRIDE: {{.Description}}`)
	writeOverride(t, userDir, `USER OVERRIDE: {{.Description}}`)

	p, err := NewLoader(projectDir, userDir).BuildEpicPrompt(testEpicData())
	if err != nil {
		t.Fatalf("failed to build prompt: %v", err)
	}

	if !strings.Contains(p.User, "PROJECT OVERRIDE") {
		t.Errorf("project override should take precedence, got: %s", p.User)
	}
}

func TestLoaderClearCache(t *testing.T) {
	tmpDir := t.TempDir()
	writeOverride(t, tmpDir, `FIRST {{.Description}}`)
	loader := NewLoader(tmpDir)

	p, err := loader.BuildEpicPrompt(testEpicData())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(p.User, "FIRST") {
		t.Fatalf("User = %q", p.User)
	}

	writeOverride(t, tmpDir, `SECOND {{.Description}}`)
	p, _ = loader.BuildEpicPrompt(testEpicData())
	if !strings.HasPrefix(p.User, "FIRST") {
		t.Errorf("cached template should be served until cleared, got %q", p.User)
	}

	loader.ClearCache()
	p, _ = loader.BuildEpicPrompt(testEpicData())
	if !strings.HasPrefix(p.User, "SECOND") {
		t.Errorf("ClearCache() should force a reload, got %q", p.User)
	}
}

func TestParseFrontmatter(t *testing.T) {
	meta, body, err := parseFrontmatter([]byte("no frontmatter"))
	if err != nil || meta != nil || body != "no frontmatter" {
		t.Errorf("plain content: meta=%v body=%q err=%v", meta, body, err)
	}

	meta, body, err = parseFrontmatter([]byte("---\r\nid: x\r\n---\r\nbody"))
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.ID != "x" || body != "body" {
		t.Errorf("CRLF content: meta=%v body=%q", meta, body)
	}

	if _, _, err := parseFrontmatter([]byte("---\nid: [unclosed\n---\nbody")); err == nil {
		t.Error("invalid yaml should fail")
	}
}
