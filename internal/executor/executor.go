// Package executor performs exactly one allow-listed action per call and
// normalizes its outcome to a status code and captured output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/shlex"

	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/logging"
	"github.com/mifrun/task-runner/internal/policy"
)

const (
	DefaultScriptTimeout = 300 * time.Second
	DefaultAPITimeout    = 20 * time.Second
	// MaxResponseBody is how much of an HTTP response body is kept in the output
	MaxResponseBody = 1500
)

// Result is the normalized outcome of one action
type Result struct {
	Code   int
	Output string
}

// Success reports whether Code counts as success
func (r Result) Success() bool {
	return domain.IsSuccess(r.Code)
}

// Config configures the executor
type Config struct {
	WorkDir       string // working directory for subprocesses
	ScriptsDir    string // allow-listed scripts live here, relative to WorkDir
	Shell         string
	ScriptTimeout time.Duration
	APITimeout    time.Duration
	CodexEnabled  bool
	CodexBin      string
	HTTPClient    *http.Client
}

// Executor runs allow-listed actions
type Executor struct {
	policy   *policy.Policy
	config   Config
	client   *http.Client
	log      *logging.Logger
	lookPath func(string) (string, error)
}

// New creates an Executor
func New(p *policy.Policy, cfg Config, logger *logging.Logger) *Executor {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "tasks"
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.CodexBin == "" {
		cfg.CodexBin = "codex"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.APITimeout}
	}
	return &Executor{
		policy:   p,
		config:   cfg,
		client:   client,
		log:      logger.With("executor"),
		lookPath: exec.LookPath,
	}
}

// Execute performs the action described by payload
func (e *Executor) Execute(ctx context.Context, payload domain.Payload) (Result, error) {
	if payload == nil {
		return Result{}, actionErrorf(ErrMalformedPayload, "empty payload")
	}
	if !e.policy.IsActionAllowed(payload.Action()) {
		return Result{}, NotAllowed(payload.Action())
	}

	switch p := payload.(type) {
	case domain.ScriptPayload:
		return e.runScript(ctx, p)
	case domain.APIPayload:
		return e.callAPI(ctx, p)
	case domain.CodexPayload:
		return e.codexApply(ctx, p)
	}
	return Result{}, NotAllowed(payload.Action())
}

func (e *Executor) runScript(ctx context.Context, p domain.ScriptPayload) (Result, error) {
	parts, err := shlex.Split(p.Cmd)
	if err != nil {
		return Result{}, actionErrorf(ErrMalformedPayload, "cannot tokenize cmd: %v", err)
	}
	if len(parts) != 1 {
		return Result{}, actionErrorf(ErrMalformedPayload, "only a single command name is allowed in cmd, got %d tokens", len(parts))
	}

	name := policy.ScriptBase(parts[0])
	if !e.policy.IsScriptAllowed(name) {
		return Result{}, actionErrorf(ErrScriptNotAllowed, "script %q is not allow-listed", name)
	}

	e.log.Infof("run_script: %s", name)
	res, err := e.runProcess(ctx, e.config.ScriptTimeout, e.config.Shell, filepath.Join(e.config.ScriptsDir, name))
	if err != nil {
		return Result{}, err
	}
	e.log.Infof("run_script exit code: %d", res.Code)
	return res, nil
}

func (e *Executor) callAPI(ctx context.Context, p domain.APIPayload) (Result, error) {
	if !e.policy.IsURLAllowed(p.URL) {
		return Result{}, actionErrorf(ErrURLNotAllowed, "url %q is not allow-listed", p.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.APITimeout)
	defer cancel()

	var body io.Reader
	if p.HasBody() {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, body)
	if err != nil {
		return Result{}, actionErrorf(ErrMalformedPayload, "building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	e.log.Infof("call_api: %s %s", p.Method, p.URL)
	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, actionErrorf(ErrExecutionTimeout, "%s %s exceeded %s", p.Method, p.URL, e.config.APITimeout)
		}
		return Result{}, fmt.Errorf("calling %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil && isTimeout(ctx, err) {
		return Result{}, actionErrorf(ErrExecutionTimeout, "reading response from %s", p.URL)
	}

	out := fmt.Sprintf("%d %s", resp.StatusCode, domain.Truncate(string(data), MaxResponseBody))
	return Result{Code: resp.StatusCode, Output: out}, nil
}

func (e *Executor) codexApply(ctx context.Context, p domain.CodexPayload) (Result, error) {
	if !e.config.CodexEnabled {
		return Result{}, actionErrorf(ErrFeatureDisabled, "codex_apply is disabled")
	}
	bin, err := e.lookPath(e.config.CodexBin)
	if err != nil {
		return Result{}, actionErrorf(ErrFeatureDisabled, "codex CLI %q not available: %v", e.config.CodexBin, err)
	}

	e.log.Infof("codex_apply: repo=%s timeout=%ds", p.RepoPath, p.TimeoutSec)
	res, err := e.runProcess(ctx, time.Duration(p.TimeoutSec)*time.Second,
		bin, "apply", "--repo", p.RepoPath, "--spec", p.Spec, "--yes")
	if err != nil {
		return Result{}, err
	}
	e.log.Infof("codex_apply exit code: %d", res.Code)
	return res, nil
}

// runProcess runs name with args under a deadline and returns the exit code
// with stdout and stderr concatenated.
func (e *Executor) runProcess(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.config.WorkDir
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, actionErrorf(ErrExecutionTimeout, "%s exceeded %s", filepath.Base(name), timeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("running %s: %w", filepath.Base(name), err)
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{Code: exitCode, Output: stdout.String() + stderr.String()}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
