package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the translation and detection paths. Callers
// match them with errors.Is; wrapping layers add context with %w.
var (
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrCapabilityTimeout    = errors.New("capability timeout")
	ErrSchemaValidation     = errors.New("schema validation failure")
	ErrExecution            = errors.New("execution error")
	ErrOutOfOrderPoint      = errors.New("out of order point")
	ErrOutOfRangeValue      = errors.New("out of range value")
	ErrUnclassifiedVariable = errors.New("unclassified variable")
	ErrInvalidInput         = errors.New("invalid input")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Invalid reports a rejected caller input for op.
func Invalid(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Err: ErrInvalidInput}
}
