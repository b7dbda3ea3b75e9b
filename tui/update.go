package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mifrun/task-runner/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		case "j", "down":
			if m.selectedRow < len(m.visible())-1 {
				m.selectedRow++
			}
			if m.selectedRow >= m.scroll+m.maxRows() {
				m.scroll = m.selectedRow - m.maxRows() + 1
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.selectedRow < m.scroll {
				m.scroll = m.selectedRow
			}
		case "tab":
			m.switchTab((m.activeTab + 1) % len(tabs))
		case "shift+tab":
			m.switchTab((m.activeTab + len(tabs) - 1) % len(tabs))
		case "1", "2", "3", "4", "5":
			m.switchTab(int(msg.String()[0] - '1'))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.loadCmd(), m.tickCmd())

	case TasksMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.SetTasks(msg.Tasks)
			m.lastRefresh = m.now()
		}
	}

	return m, nil
}

// SetTasks replaces the task list, keeping the selection in range
func (m *Model) SetTasks(tasks []*domain.Task) {
	m.tasks = tasks
	m.clampSelection()
}

func (m *Model) switchTab(tab int) {
	m.activeTab = tab
	m.selectedRow = 0
	m.scroll = 0
}

func (m *Model) clampSelection() {
	n := len(m.visible())
	if m.selectedRow >= n {
		m.selectedRow = n - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
	if m.scroll > m.selectedRow {
		m.scroll = m.selectedRow
	}
}

// maxRows is how many task rows fit above the detail pane
func (m Model) maxRows() int {
	rows := m.height - 14
	if rows < 5 {
		return 5
	}
	return rows
}
