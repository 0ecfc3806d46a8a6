package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage failures. The kind decides propagation:
// input and precondition errors return to the caller, upstream and
// schema errors degrade into the owning analysis.
type ErrorKind string

const (
	// ErrorKindInput marks malformed caller input.
	ErrorKindInput ErrorKind = "input"

	// ErrorKindUpstream marks LLM or retrieval failures that survived
	// the client-level retries.
	ErrorKindUpstream ErrorKind = "upstream_service"

	// ErrorKindSchema marks model output that failed structural
	// validation beyond what defaulting rules can repair.
	ErrorKindSchema ErrorKind = "schema_validation"

	// ErrorKindPrecondition marks a stage invoked before its required
	// inputs exist.
	ErrorKindPrecondition ErrorKind = "precondition"
)

// StageError wraps a failure with its kind and originating step.
type StageError struct {
	Kind ErrorKind
	Step Step
	Err  error
}

// NewError builds a classified stage error.
func NewError(kind ErrorKind, step Step, err error) *StageError {
	return &StageError{Kind: kind, Step: step, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Step, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from an error chain. Unclassified errors
// return the empty kind.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
