package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mifrun/task-runner/internal/domain"
)

// DefaultRefresh is how often the dashboard reloads tasks
const DefaultRefresh = 2 * time.Second

// tabs filter the task list by status; "" shows everything
var tabs = []domain.Status{"", domain.StatusReady, domain.StatusRunning, domain.StatusDone, domain.StatusFailed}

// LoadFunc fetches the tasks to display
type LoadFunc func() ([]*domain.Task, error)

// Model is the TUI application model
type Model struct {
	// Data
	load  LoadFunc
	tasks []*domain.Task
	err   error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int

	// Refresh
	refresh     time.Duration
	lastRefresh time.Time
	now         func() time.Time
}

// ModelConfig holds the data source and initial data for the TUI model
type ModelConfig struct {
	Load    LoadFunc
	Tasks   []*domain.Task
	Refresh time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultRefresh
	}
	return Model{
		load:    cfg.Load,
		tasks:   cfg.Tasks,
		refresh: cfg.Refresh,
		now:     time.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.tickCmd())
}

// TickMsg triggers a refresh
type TickMsg time.Time

// TasksMsg carries freshly loaded tasks
type TasksMsg struct {
	Tasks []*domain.Task
	Err   error
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) loadCmd() tea.Cmd {
	if m.load == nil {
		return nil
	}
	load := m.load
	return func() tea.Msg {
		tasks, err := load()
		return TasksMsg{Tasks: tasks, Err: err}
	}
}

// visible returns the tasks of the active tab
func (m Model) visible() []*domain.Task {
	status := tabs[m.activeTab]
	if status == "" {
		return m.tasks
	}
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// selected returns the highlighted task, or nil
func (m Model) selected() *domain.Task {
	v := m.visible()
	if m.selectedRow < 0 || m.selectedRow >= len(v) {
		return nil
	}
	return v[m.selectedRow]
}

// counts tallies tasks per status
func (m Model) counts() map[domain.Status]int {
	c := make(map[domain.Status]int)
	for _, t := range m.tasks {
		c[t.Status]++
	}
	return c
}
