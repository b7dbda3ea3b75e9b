package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/observer"
	"github.com/mifrun/task-runner/internal/taskstore"
)

// Store interface for database operations
type Store interface {
	ListTasks(ctx context.Context, opts taskstore.ListOptions) ([]*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	Logs(ctx context.Context, id string) ([]taskstore.LogEntry, error)
}

// MetricsSource reports aggregated pass metrics
type MetricsSource interface {
	GetMetrics() observer.Metrics
}

// Server is the HTTP API server
type Server struct {
	store   Store
	metrics MetricsSource
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	logger  *logging.Logger
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(store Store, metrics MetricsSource, addr string, logger *logging.Logger) *Server {
	s := &Server{
		store:   store,
		metrics: metrics,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		logger:  logger.With("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/tasks", s.listTasksHandler())
	s.mux.HandleFunc("/api/tasks/{id}", s.getTaskHandler())
	s.mux.HandleFunc("/api/tasks/{id}/logs", s.taskLogsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Handler exposes the routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.sseHub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
