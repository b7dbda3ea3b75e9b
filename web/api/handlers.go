package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// TaskResponse is the API response for a task
type TaskResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Action      string   `json:"action"`
	Payload     string   `json:"payload"`
	Priority    int      `json:"priority"`
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
	DependsOn   []string `json:"depends_on,omitempty"`
	EpicID      string   `json:"epic_id,omitempty"`
	Logs        string   `json:"logs,omitempty"`
	UpdatedAt   string   `json:"updated_at"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total   int `json:"total"`
	Draft   int `json:"draft"`
	Ready   int `json:"ready"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`

	Passes      int    `json:"passes"`
	AvgDuration string `json:"avg_pass_duration,omitempty"`
	LastRunID   string `json:"last_run_id,omitempty"`
}

// LogResponse is one entry of a task's log history
type LogResponse struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Status:      string(t.Status),
		Action:      string(t.Action),
		Payload:     t.Payload,
		Priority:    t.Priority,
		Attempts:    t.Attempts,
		MaxAttempts: t.EffectiveMaxAttempts(),
		DependsOn:   t.DependsOn,
		EpicID:      t.EpicID,
		Logs:        t.Logs,
		UpdatedAt:   t.LastModified.UTC().Format(time.RFC3339),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		tasks, err := s.store.ListTasks(r.Context(), taskstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(tasks)

		for _, t := range tasks {
			switch t.Status {
			case domain.StatusDraft:
				status.Draft++
			case domain.StatusReady:
				status.Ready++
			case domain.StatusRunning:
				status.Running++
			case domain.StatusDone:
				status.Done++
			case domain.StatusFailed:
				status.Failed++
			}
		}

		if s.metrics != nil {
			m := s.metrics.GetMetrics()
			status.Passes = m.Passes
			status.LastRunID = m.LastRunID
			if m.Passes > 0 {
				status.AvgDuration = m.AvgDuration.Round(time.Millisecond).String()
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		q := r.URL.Query()
		opts := taskstore.ListOptions{
			Status: domain.Status(q.Get("status")),
			EpicID: q.Get("epic"),
		}
		if opts.Status != "" && !opts.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		tasks, err := s.store.ListTasks(r.Context(), opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]TaskResponse, len(tasks))
		for i, t := range tasks {
			responses[i] = taskToResponse(t)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, taskToResponse(task))
	}
}

func (s *Server) taskLogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := r.PathValue("id")
		if _, err := s.store.GetTask(r.Context(), id); err != nil {
			if errors.Is(err, taskstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		entries, err := s.store.Logs(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]LogResponse, len(entries))
		for i, e := range entries {
			responses[i] = LogResponse{
				Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
				Status:    string(e.Status),
				Message:   e.Message,
			}
		}
		writeJSON(w, responses)
	}
}
