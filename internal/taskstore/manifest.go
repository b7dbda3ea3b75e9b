package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mifrun/task-runner/internal/domain"
)

// Manifest is a YAML file of records to insert in one go
type Manifest struct {
	Epics []ManifestEpic `yaml:"epics"`
	Tasks []ManifestTask `yaml:"tasks"`
}

// ManifestEpic describes an epic to create
type ManifestEpic struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// ManifestTask describes a task to create. DependsOn entries name either
// the Key of an earlier task in the same manifest or an existing record id.
type ManifestTask struct {
	Key         string         `yaml:"key"`
	Title       string         `yaml:"title"`
	Status      string         `yaml:"status"`
	Action      string         `yaml:"action"`
	Payload     map[string]any `yaml:"payload"`
	Priority    int            `yaml:"priority"`
	MaxAttempts int            `yaml:"max_attempts"`
	DependsOn   []string       `yaml:"depends_on"`
}

// Creator is the subset of the store a manifest is applied to
type Creator interface {
	CreateTask(ctx context.Context, t domain.NewTask) (string, error)
	CreateEpic(ctx context.Context, title, description string) (string, error)
}

// ApplyResult maps manifest entries to the ids they were created under
type ApplyResult struct {
	EpicIDs []string
	TaskIDs map[string]string // key (or title when no key) -> id
}

// ParseManifest decodes and checks a manifest
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &m, nil
		}
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads a manifest file
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseManifest(f)
}

// Validate rejects entries no store could accept
func (m *Manifest) Validate() error {
	for i, e := range m.Epics {
		if strings.TrimSpace(e.Title) == "" {
			return fmt.Errorf("epics[%d]: title is required", i)
		}
	}

	keys := make(map[string]bool)
	for i, t := range m.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("tasks[%d]: title is required", i)
		}
		switch domain.Action(t.Action) {
		case domain.ActionRunScript, domain.ActionCallAPI, domain.ActionCodexApply:
		default:
			return fmt.Errorf("tasks[%d]: unknown action %q", i, t.Action)
		}
		if t.Status != "" && !domain.Status(t.Status).Valid() {
			return fmt.Errorf("tasks[%d]: unknown status %q", i, t.Status)
		}
		if t.Key != "" {
			if keys[t.Key] {
				return fmt.Errorf("tasks[%d]: duplicate key %q", i, t.Key)
			}
			keys[t.Key] = true
		}
	}
	return nil
}

// Apply creates every epic, then every task in file order. Tasks default to
// Ready so the next pass picks them up.
func (m *Manifest) Apply(ctx context.Context, c Creator) (*ApplyResult, error) {
	res := &ApplyResult{TaskIDs: make(map[string]string)}

	for _, e := range m.Epics {
		id, err := c.CreateEpic(ctx, e.Title, e.Description)
		if err != nil {
			return res, fmt.Errorf("creating epic %q: %w", e.Title, err)
		}
		res.EpicIDs = append(res.EpicIDs, id)
	}

	for _, t := range m.Tasks {
		nt, err := t.newTask(res.TaskIDs)
		if err != nil {
			return res, fmt.Errorf("task %q: %w", t.Title, err)
		}
		id, err := c.CreateTask(ctx, nt)
		if err != nil {
			return res, fmt.Errorf("creating task %q: %w", t.Title, err)
		}
		res.TaskIDs[t.Ref()] = id
	}
	return res, nil
}

// Ref is the name later entries and ApplyResult.TaskIDs use for t
func (t ManifestTask) Ref() string {
	if t.Key != "" {
		return t.Key
	}
	return t.Title
}

func (t ManifestTask) newTask(created map[string]string) (domain.NewTask, error) {
	payload := "{}"
	if len(t.Payload) > 0 {
		data, err := json.Marshal(t.Payload)
		if err != nil {
			return domain.NewTask{}, fmt.Errorf("encoding payload: %w", err)
		}
		payload = string(data)
	}

	status := domain.StatusReady
	if t.Status != "" {
		status = domain.Status(t.Status)
	}

	deps := make([]string, 0, len(t.DependsOn))
	for _, d := range t.DependsOn {
		if id, ok := created[d]; ok {
			deps = append(deps, id)
			continue
		}
		deps = append(deps, d)
	}

	return domain.NewTask{
		Title:       t.Title,
		Status:      status,
		Action:      domain.Action(t.Action),
		Payload:     payload,
		Priority:    t.Priority,
		MaxAttempts: t.MaxAttempts,
		DependsOn:   deps,
	}, nil
}
