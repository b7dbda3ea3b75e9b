// Package decompose expands epics into Draft tasks through a text
// generation backend.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/generate"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/policy"
	"github.com/mifrun/task-runner/internal/prompts"
	"github.com/mifrun/task-runner/internal/retry"
	"github.com/mifrun/task-runner/internal/taskstore"
)

const (
	DefaultEpicBatch       = 5
	DefaultGenerateRetries = 5
	DefaultGenerateBackoff = time.Second
)

// Epic log messages
const (
	MsgEmptyDescription = "Empty epic description"
	msgGenerationFailed = "Generation error: "
	msgValidationFailed = "Validation error: "
)

// DefaultRetryPolicy retries server and network failures with exponential backoff
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultGenerateRetries,
		Backoff:     retry.Exponential(DefaultGenerateBackoff),
		Retryable:   generate.IsRetryable,
	}
}

// Config controls the pipeline
type Config struct {
	EpicBatch int
	Retry     retry.Policy
}

// Summary describes one ProcessEpics run
type Summary struct {
	Processed    int
	Done         int
	Failed       int
	Skipped      int
	TasksCreated int
	Failures     []EpicFailure
}

// EpicFailure describes an epic that ended Failed
type EpicFailure struct {
	EpicID string
	Title  string
	Reason string
}

// Pipeline turns Ready epics into Draft tasks
type Pipeline struct {
	store   taskstore.Gateway
	gen     generate.Generator
	policy  *policy.Policy
	prompts *prompts.Loader
	cfg     Config
	logger  *logging.Logger
}

// New creates a Pipeline
func New(store taskstore.Gateway, gen generate.Generator, p *policy.Policy, loader *prompts.Loader, cfg Config, logger *logging.Logger) *Pipeline {
	if cfg.EpicBatch <= 0 {
		cfg.EpicBatch = DefaultEpicBatch
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = generate.IsRetryable
	}
	log := logger.With("decompose")
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = func(attempt int, err error) {
			log.Warnf("generation attempt %d failed: %v", attempt, err)
		}
	}
	return &Pipeline{
		store:   store,
		gen:     gen,
		policy:  p,
		prompts: loader,
		cfg:     cfg,
		logger:  log,
	}
}

// Decompose generates and sanitizes the tasks for one epic description
func (p *Pipeline) Decompose(ctx context.Context, description string) ([]GeneratedTask, error) {
	prompt, err := p.prompts.BuildEpicPrompt(prompts.EpicData{
		Description:   strings.TrimSpace(description),
		Actions:       []string{string(domain.ActionRunScript), string(domain.ActionCallAPI)},
		Scripts:       p.policy.Scripts(),
		URLs:          p.policy.URLs(),
		DefaultScript: p.policy.DefaultScript(),
	})
	if err != nil {
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	var text string
	err = retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
		var err error
		text, err = p.gen.Complete(ctx, prompt.System, prompt.User)
		return err
	})
	if err != nil {
		genErr := &GenerationError{Err: err}
		var se *generate.StatusError
		if errors.As(err, &se) {
			genErr.Status, genErr.Body = se.Code, se.Body
		}
		return nil, genErr
	}

	items, err := ExtractArray(text)
	if err != nil {
		p.logger.Debugf("unparsable response: %s", domain.Truncate(text, 1000))
		return nil, err
	}

	tasks := Sanitize(p.policy, items)
	if len(tasks) < MinTasks {
		return nil, &ValidationError{Msg: fmt.Sprintf("too few tasks (%d valid of %d)", len(tasks), len(items))}
	}
	return tasks, nil
}

// ProcessEpics expands every currently Ready epic. Only a failed epic query
// is returned as an error.
func (p *Pipeline) ProcessEpics(ctx context.Context) (Summary, error) {
	var summary Summary

	epics, err := p.store.QueryReadyEpics(ctx, p.cfg.EpicBatch)
	if err != nil {
		return summary, fmt.Errorf("querying ready epics: %w", err)
	}

	for _, epic := range epics {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, ok := p.processEpic(ctx, epic)
		if !ok {
			summary.Skipped++
			continue
		}
		summary.Processed++
		summary.TasksCreated += res.created
		if res.status == domain.StatusDone {
			summary.Done++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, EpicFailure{
			EpicID: epic.ID,
			Title:  epic.Title,
			Reason: domain.Truncate(res.msg, 200),
		})
	}
	return summary, nil
}

type epicResult struct {
	status  domain.Status
	msg     string
	created int
}

func (p *Pipeline) processEpic(ctx context.Context, epic *domain.Epic) (epicResult, bool) {
	if !epic.Status.CanTransition(domain.StatusRunning) {
		p.logger.Warnf("epic %s: cannot start from %s", epic.ID, epic.Status)
		return epicResult{}, false
	}
	if err := p.store.UpdateStatus(ctx, epic.ID, domain.StatusRunning, ""); err != nil {
		p.logger.Warnf("epic %s: claiming: %v", epic.ID, err)
		return epicResult{}, false
	}
	p.logger.Infof("epic %s: decomposing %q", epic.ID, epic.Title)

	status, msg, created := p.expand(ctx, epic)
	if err := p.store.UpdateStatus(ctx, epic.ID, status, msg); err != nil {
		p.logger.Errorf("epic %s: recording %s: %v", epic.ID, status, err)
	}
	p.logger.Infof("epic %s: %s (%s)", epic.ID, status, msg)
	return epicResult{status: status, msg: msg, created: created}, true
}

// expand runs the pipeline for one claimed epic and returns its final state
func (p *Pipeline) expand(ctx context.Context, epic *domain.Epic) (domain.Status, string, int) {
	if strings.TrimSpace(epic.Description) == "" {
		return domain.StatusFailed, MsgEmptyDescription, 0
	}

	tasks, err := p.Decompose(ctx, epic.Description)
	if err != nil {
		var genErr *GenerationError
		var valErr *ValidationError
		switch {
		case errors.As(err, &genErr):
			return domain.StatusFailed, msgGenerationFailed + genErr.Error(), 0
		case errors.As(err, &valErr):
			return domain.StatusFailed, msgValidationFailed + valErr.Msg, 0
		default:
			return domain.StatusFailed, "Error: " + err.Error(), 0
		}
	}

	created, failed := 0, 0
	for _, t := range tasks {
		nt, err := t.NewTask(epic.ID)
		if err == nil {
			_, err = p.store.CreateTask(ctx, nt)
		}
		if err != nil {
			failed++
			p.logger.Warnf("epic %s: creating task %q: %v", epic.ID, t.Title, err)
			continue
		}
		created++
	}

	msg := fmt.Sprintf("Created %d tasks", created)
	if failed > 0 {
		msg += fmt.Sprintf(" (%d failed)", failed)
	}
	if created == 0 {
		return domain.StatusFailed, msg, 0
	}
	return domain.StatusDone, msg, created
}
