package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mifrun/task-runner/internal/domain"
)

var (
	ErrActionNotAllowed = errors.New("action not allowed")
	ErrScriptNotAllowed = errors.New("script not allowed")
	ErrURLNotAllowed    = errors.New("url not allowed")
	ErrMalformedPayload = domain.ErrMalformedPayload
	ErrExecutionTimeout = errors.New("execution timeout")
	ErrFeatureDisabled  = errors.New("feature disabled")
)

// ActionError is a typed failure of a single action attempt
type ActionError struct {
	Kind error
	Msg  string
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ActionError) Unwrap() error { return e.Kind }

func actionErrorf(kind error, format string, args ...any) error {
	return &ActionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NotAllowed builds the error for an action outside the policy
func NotAllowed(action domain.Action) error {
	return actionErrorf(ErrActionNotAllowed, "unknown or not allowed action %q", action)
}

// Malformed converts a payload decoding failure into an ActionError
func Malformed(err error) error {
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	msg := strings.TrimPrefix(err.Error(), ErrMalformedPayload.Error()+": ")
	return &ActionError{Kind: ErrMalformedPayload, Msg: msg}
}
