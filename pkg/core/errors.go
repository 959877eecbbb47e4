package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the engine, activities and workflows.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindTransient        ErrorKind = "transient"
	KindExecutionTimeout ErrorKind = "execution_timeout"
	KindActivityTimeout  ErrorKind = "activity_timeout"
	KindCanceled         ErrorKind = "canceled"
	KindInternal         ErrorKind = "internal"
)

var (
	ErrNotFound          = errors.New("renderflow: not found")
	ErrTaskExists        = errors.New("renderflow: task id already exists")
	ErrInvalidTransition = errors.New("renderflow: invalid task state transition")
	ErrResultPending     = errors.New("renderflow: result not ready")
	ErrTaskCanceled      = errors.New("renderflow: task canceled")
	ErrWorkflowClosed    = errors.New("renderflow: workflow is closed")
	ErrWorkflowIDInUse   = errors.New("renderflow: workflow id already in use")
	ErrUnknownSignal     = errors.New("renderflow: unknown signal")
	ErrUnknownQuery      = errors.New("renderflow: unknown query")
)

// ValidationError reports rejected input. It is never retried and is
// surfaced to the caller synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation creates a ValidationError for a named field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError marks a failure worth retrying per the activity policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to mark it as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// KindOf maps an error to its taxonomy kind for task records and
// workflow results.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case IsTransient(err):
		return KindTransient
	case errors.Is(err, ErrTaskCanceled):
		return KindCanceled
	}
	return KindInternal
}
