package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTitleLen bounds task titles at creation
	MaxTitleLen = 180
	// MaxLogLen bounds the log properties written back to the store
	MaxLogLen = 1800
	// MinPriority and MaxPriority bound task priorities; lower runs first
	MinPriority = 1
	MaxPriority = 999
	// DefaultMaxAttempts is used when a record carries no attempt ceiling
	DefaultMaxAttempts = 3
)

// Task represents one unit of orchestrated work
type Task struct {
	ID           string
	Title        string
	Status       Status
	Action       Action
	Payload      string // raw JSON, decoded once via DecodePayload
	Priority     int
	Attempts     int
	MaxAttempts  int
	DependsOn    []string
	Logs         string
	LogsPlain    string
	EpicID       string
	LastModified time.Time
}

// AttemptsExhausted returns true once the attempt budget is used up
func (t *Task) AttemptsExhausted() bool {
	return t.Attempts >= t.EffectiveMaxAttempts()
}

// EffectiveMaxAttempts returns MaxAttempts, or the default when unset
func (t *Task) EffectiveMaxAttempts() int {
	if t.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return t.MaxAttempts
}

// Epic is a free-text goal that expands into tasks
type Epic struct {
	ID           string
	Title        string
	Description  string
	Status       Status
	Logs         string
	LastModified time.Time
}

// NewTask describes a task record to be created in the store
type NewTask struct {
	Title       string
	Status      Status
	Action      Action
	Payload     string
	Priority    int
	MaxAttempts int
	DependsOn   []string
	EpicID      string
}

// Normalize applies the creation-time clamps to title, priority and attempt ceiling
func (n NewTask) Normalize() NewTask {
	n.Title = Truncate(strings.TrimSpace(n.Title), MaxTitleLen)
	n.Priority = ClampPriority(n.Priority)
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = DefaultMaxAttempts
	}
	if n.Status == "" {
		n.Status = StatusDraft
	}
	if n.Payload == "" {
		n.Payload = "{}"
	}
	return n
}

// ClampPriority forces p into [MinPriority, MaxPriority]
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// IsSuccess reports whether a normalized result code counts as success:
// 0 for processes, 2xx for HTTP calls.
func IsSuccess(code int) bool {
	return code == 0 || (code >= 200 && code < 300)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
