package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// EpicTemplate is the path of the epic decomposition prompt
const EpicTemplate = "decompose/epic.md"

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // checked in order before the embedded copies
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata.
type TemplateMeta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	MinTasks    int    `yaml:"min_tasks"`
	MaxTasks    int    `yaml:"max_tasks"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project-local: .taskrunner/prompts/
// 2. User config: ~/.config/taskrunner/prompts/
func DefaultLoader(projectRoot string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".taskrunner", "prompts"))
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "taskrunner", "prompts"))
	}

	return NewLoader(dirs...)
}

// OverrideDirs returns the directories searched for overrides
func (l *Loader) OverrideDirs() []string {
	return append([]string(nil), l.overrideDirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "decompose/epic.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data interface{}) (string, *TemplateMeta, error) {
	tmpl, meta, err := l.LoadTemplate(path)
	if err != nil {
		return "", nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("execute %s: %w", path, err)
	}

	return buf.String(), meta, nil
}

// EpicData holds template variables for the decomposition prompt.
type EpicData struct {
	Description   string
	Actions       []string
	Scripts       []string
	URLs          []string
	DefaultScript string
	MinTasks      int
	MaxTasks      int
}

// Prompt is a rendered system instruction plus user prompt
type Prompt struct {
	System string
	User   string
}

// BuildEpicPrompt renders the decomposition prompt. Task bounds left at
// zero are taken from the template's frontmatter.
func (l *Loader) BuildEpicPrompt(data EpicData) (Prompt, error) {
	_, meta, err := l.LoadTemplate(EpicTemplate)
	if err != nil {
		return Prompt{}, err
	}
	if meta == nil {
		meta = &TemplateMeta{}
	}
	if data.MinTasks == 0 {
		data.MinTasks = meta.MinTasks
	}
	if data.MaxTasks == 0 {
		data.MaxTasks = meta.MaxTasks
	}

	user, _, err := l.Execute(EpicTemplate, data)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: strings.TrimSpace(meta.System), User: strings.TrimSpace(user)}, nil
}

// ClearCache drops parsed templates so overrides are re-read.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}
