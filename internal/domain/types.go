package domain

// Status represents the lifecycle state of a task or epic record
type Status string

const (
	StatusDraft   Status = "Draft"
	StatusReady   Status = "Ready"
	StatusRunning Status = "Running"
	StatusDone    Status = "Done"
	StatusFailed  Status = "Failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusRunning, StatusDone, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the engine may move a record from s to next.
// Records only move forward: {Draft|Ready} -> Running -> {Done|Failed}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft, StatusReady:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusDone || next == StatusFailed
	default:
		return false
	}
}

// Action is one of the fixed operations a task can perform
type Action string

const (
	ActionRunScript  Action = "run_script"
	ActionCallAPI    Action = "call_api"
	ActionCodexApply Action = "codex_apply"
)

// Kind distinguishes task records from epic records in a shared store
type Kind string

const (
	KindTask Kind = "Task"
	KindEpic Kind = "Epic"
)
