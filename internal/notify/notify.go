// Package notify reports run outcomes to humans.
package notify

import (
	"fmt"

	"github.com/mifrun/task-runner/internal/decompose"
	"github.com/mifrun/task-runner/internal/scheduler"
)

// Severity grades a report
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// maxListedFailures caps the failures spelled out in one report
const maxListedFailures = 10

// Field is one failed record in a report
type Field struct {
	Name  string
	Value string
}

// Report is a run outcome worth telling someone about
type Report struct {
	Title    string
	Summary  string
	Severity Severity
	RunID    string // empty for decomposition runs
	Fields   []Field
	// Omitted counts failures beyond maxListedFailures
	Omitted int
}

// Notifier delivers reports
type Notifier interface {
	Send(r Report) error
}

// NoopNotifier drops every report
type NoopNotifier struct{}

func (NoopNotifier) Send(r Report) error { return nil }

// severityFor is Error when nothing succeeded and Warning otherwise
func severityFor(done int) Severity {
	if done == 0 {
		return SeverityError
	}
	return SeverityWarning
}

func (r *Report) addField(name, value string) {
	if len(r.Fields) == maxListedFailures {
		r.Omitted++
		return
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// ForPass builds the report for a scheduler pass. The second return is
// false when the pass had no failures.
func ForPass(s scheduler.Summary) (Report, bool) {
	if s.Failed == 0 {
		return Report{}, false
	}
	r := Report{
		Title:    fmt.Sprintf("Task run %s: %d failed", s.RunID, s.Failed),
		Summary:  fmt.Sprintf("%d done, %d failed, %d skipped, %d waiting", s.Done, s.Failed, s.Skipped, s.Waiting),
		Severity: severityFor(s.Done),
		RunID:    s.RunID,
	}
	for _, f := range s.Failures {
		r.addField(fmt.Sprintf("%s (%s)", f.Title, f.TaskID), f.Reason)
	}
	return r, true
}

// ForEpics builds the report for a decomposition run
func ForEpics(s decompose.Summary) (Report, bool) {
	if s.Failed == 0 {
		return Report{}, false
	}
	r := Report{
		Title:    fmt.Sprintf("Epic decomposition: %d failed", s.Failed),
		Summary:  fmt.Sprintf("%d epics done, %d failed, %d tasks created", s.Done, s.Failed, s.TasksCreated),
		Severity: severityFor(s.Done),
	}
	for _, f := range s.Failures {
		r.addField(fmt.Sprintf("%s (%s)", f.Title, f.EpicID), f.Reason)
	}
	return r, true
}
