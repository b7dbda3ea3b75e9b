package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mifrun/task-runner/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))

	highPrioStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	lowPrioStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	statusStyles = map[domain.Status]lipgloss.Style{
		domain.StatusDraft:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		domain.StatusReady:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		domain.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.StatusDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domain.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	c := m.counts()
	header := fmt.Sprintf(" Task Runner │ Tasks: %d │ Ready: %d │ Running: %d │ Done: %d │ Failed: %d ",
		len(m.tasks), c[domain.StatusReady], c[domain.StatusRunning], c[domain.StatusDone], c[domain.StatusFailed])
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderTasks()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderDetail()))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	var parts []string
	for i, status := range tabs {
		name := string(status)
		if name == "" {
			name = "All"
		}
		label := fmt.Sprintf("[%d] %s", i+1, name)
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(label))
		} else {
			parts = append(parts, tabInactiveStyle.Render(label))
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderTasks() string {
	visible := m.visible()
	if len(visible) == 0 {
		return dimmedStyle.Render("No tasks")
	}

	now := m.now()
	var lines []string
	lines = append(lines, dimmedStyle.Render(fmt.Sprintf("%-3s %-8s %-11s %-8s %-40s %s", "P", "STATUS", "ACTION", "TRIES", "TITLE", "UPDATED")))

	end := m.scroll + m.maxRows()
	if end > len(visible) {
		end = len(visible)
	}
	for i := m.scroll; i < end; i++ {
		t := visible[i]
		line := fmt.Sprintf("%-3s %-8s %-11s %-8s %-40s %s",
			renderPriority(t.Priority),
			t.Status,
			t.Action,
			fmt.Sprintf("%d/%d", t.Attempts, t.EffectiveMaxAttempts()),
			domain.Truncate(t.Title, 40),
			humanize.RelTime(t.LastModified, now, "ago", "from now"),
		)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		} else if style, ok := statusStyles[t.Status]; ok {
			line = style.Render(line)
		}
		lines = append(lines, line)
	}
	if len(visible) > end {
		lines = append(lines, dimmedStyle.Render(fmt.Sprintf("... %d more", len(visible)-end)))
	}
	return strings.Join(lines, "\n")
}

func renderPriority(p int) string {
	s := fmt.Sprintf("P%d", p)
	switch {
	case p <= 1:
		return highPrioStyle.Render(s)
	case p >= 4:
		return lowPrioStyle.Render(s)
	default:
		return s
	}
}

func (m Model) renderDetail() string {
	t := m.selected()
	if t == nil {
		return dimmedStyle.Render("Select a task to see its logs")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", t.ID, t.Title)
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(t.DependsOn, ", "))
	}
	if t.EpicID != "" {
		fmt.Fprintf(&b, "Epic: %s\n", t.EpicID)
	}
	fmt.Fprintf(&b, "Payload: %s\n", domain.Truncate(t.Payload, 200))
	logs := strings.TrimSpace(t.Logs)
	if logs == "" {
		logs = dimmedStyle.Render("(no logs)")
	}
	b.WriteString(domain.Truncate(logs, 600))
	return b.String()
}

func (m Model) renderStatusBar() string {
	left := " q quit │ r refresh │ tab/1-5 filter │ j/k select"
	right := ""
	if m.err != nil {
		right = errorStyle.Render("load failed: " + m.err.Error())
	} else if !m.lastRefresh.IsZero() {
		right = "refreshed " + humanize.RelTime(m.lastRefresh, m.now(), "ago", "from now")
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 1
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
