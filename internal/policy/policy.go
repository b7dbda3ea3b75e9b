// Package policy holds the static allow-lists that bound what tasks may do.
package policy

import (
	"path"
	"sort"
	"strings"

	"github.com/mifrun/task-runner/internal/domain"
)

const (
	DefaultScript = "build.sh"
	DefaultURL    = "https://httpbin.org/post"
)

// Policy is the allow-list configuration shared by the executor and the
// decomposition sanitizer. Execution rejects values outside the lists;
// sanitization clamps them to the defaults instead.
type Policy struct {
	actions map[domain.Action]bool
	scripts map[string]bool
	urls    map[string]bool

	defaultScript string
	defaultURL    string
}

// Config lists the permitted resources
type Config struct {
	Actions       []domain.Action
	Scripts       []string
	URLs          []string
	DefaultScript string
	DefaultURL    string
}

// Default returns the built-in allow-lists
func Default() *Policy {
	return New(Config{})
}

// New builds a Policy, filling empty fields from the built-in lists
func New(cfg Config) *Policy {
	if len(cfg.Actions) == 0 {
		cfg.Actions = []domain.Action{domain.ActionRunScript, domain.ActionCallAPI, domain.ActionCodexApply}
	}
	if len(cfg.Scripts) == 0 {
		cfg.Scripts = []string{"build.sh", "sync_data.sh"}
	}
	if len(cfg.URLs) == 0 {
		cfg.URLs = []string{DefaultURL}
	}

	p := &Policy{
		actions: make(map[domain.Action]bool, len(cfg.Actions)),
		scripts: make(map[string]bool, len(cfg.Scripts)),
		urls:    make(map[string]bool, len(cfg.URLs)),
	}
	for _, a := range cfg.Actions {
		p.actions[a] = true
	}
	for _, s := range cfg.Scripts {
		p.scripts[s] = true
	}
	for _, u := range cfg.URLs {
		p.urls[u] = true
	}

	p.defaultScript = cfg.DefaultScript
	if !p.scripts[p.defaultScript] {
		p.defaultScript = cfg.Scripts[0]
	}
	p.defaultURL = cfg.DefaultURL
	if !p.urls[p.defaultURL] {
		p.defaultURL = cfg.URLs[0]
	}
	return p
}

// IsActionAllowed reports whether action may be executed at all
func (p *Policy) IsActionAllowed(action domain.Action) bool {
	return p.actions[action]
}

// IsScriptAllowed reports whether the base filename is allow-listed
func (p *Policy) IsScriptAllowed(name string) bool {
	return p.scripts[name]
}

// IsURLAllowed reports whether url exactly matches an allow-listed URL
func (p *Policy) IsURLAllowed(url string) bool {
	return p.urls[url]
}

// DefaultScript is the clamp target for unrecognized scripts
func (p *Policy) DefaultScript() string { return p.defaultScript }

// DefaultURL is the clamp target for unrecognized URLs
func (p *Policy) DefaultURL() string { return p.defaultURL }

// Scripts returns the allowed script names, sorted
func (p *Policy) Scripts() []string { return sortedKeys(p.scripts) }

// URLs returns the allowed URLs, sorted
func (p *Policy) URLs() []string { return sortedKeys(p.urls) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ScriptBase resolves a command string to its base filename
func ScriptBase(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(raw, "\\", "/"))
}

// NormalizeScriptName resolves raw to its base filename, substituting the
// default script when the result is not allow-listed.
func (p *Policy) NormalizeScriptName(raw string) string {
	name := ScriptBase(raw)
	if p.scripts[name] {
		return name
	}
	return p.defaultScript
}

// NormalizeURL returns raw when allow-listed, the default URL otherwise
func (p *Policy) NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if p.urls[raw] {
		return raw
	}
	return p.defaultURL
}
