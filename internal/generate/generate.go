// Package generate provides the text completion backends used to expand
// epics into tasks.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mifrun/task-runner/internal/domain"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultTimeout     = 90 * time.Second
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1200
	// maxErrorBody bounds how much of a failed response is kept
	maxErrorBody = 300
)

// Generator completes a prompt under a system instruction
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config selects and configures a backend
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// New builds the Generator named by cfg.Provider
func New(cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s api key is not set", cfg.Provider)
	}
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// StatusError is a non-success response from a backend
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Body)
}

func newStatusError(code int, body string) *StatusError {
	return &StatusError{Code: code, Body: domain.Truncate(body, maxErrorBody)}
}

// IsRetryable reports whether a completion failure is worth another try:
// server-side statuses and network errors are, client-side statuses are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
