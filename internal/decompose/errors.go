package decompose

import "fmt"

// GenerationError means the backend could not produce a response
type GenerationError struct {
	Status int // HTTP status, 0 for transport failures
	Body   string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation failed: %d %s", e.Status, e.Body)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ValidationError means the response could not be turned into enough tasks
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Msg
}
