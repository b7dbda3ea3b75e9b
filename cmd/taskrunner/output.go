package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/scheduler"
	"github.com/mifrun/task-runner/internal/taskstore"
)

var (
	draftStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusReady:
		return readyStyle
	case domain.StatusRunning:
		return runningStyle
	case domain.StatusDone:
		return doneStyle
	case domain.StatusFailed:
		return failedStyle
	default:
		return draftStyle
	}
}

// writeTaskTable prints tasks in list order. The styled status goes last so
// escape codes don't disturb column alignment.
func writeTaskTable(out io.Writer, tasks []*domain.Task, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tACTION\tPRIORITY\tATTEMPTS\tUPDATED\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			t.ID,
			domain.Truncate(t.Title, 50),
			t.Action,
			t.Priority,
			t.Attempts,
			t.EffectiveMaxAttempts(),
			humanize.RelTime(t.LastModified, now, "ago", "from now"),
			statusStyle(t.Status).Render(string(t.Status)),
		)
	}
	return w.Flush()
}

func writeLogEntries(out io.Writer, entries []taskstore.LogEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			statusStyle(e.Status).Render(string(e.Status)),
			e.Message,
		)
	}
	return w.Flush()
}

func formatSummary(s scheduler.Summary) string {
	return fmt.Sprintf("Run %s: %d selected | %d done | %d failed | %d skipped | %d waiting (%s)",
		s.RunID, s.Selected, s.Done, s.Failed, s.Skipped, s.Waiting, s.Duration.Round(time.Millisecond))
}
