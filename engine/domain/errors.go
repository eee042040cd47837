package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyTitle      = errors.New("empty title")
	ErrInvalidURL      = errors.New("invalid url")
	ErrEmptySummary    = errors.New("empty summary")
	ErrMissingScore    = errors.New("missing relevance score")
	ErrScoreOutOfRange = errors.New("relevance score out of range")
	ErrEmptyPrompt     = errors.New("empty prompt")
	ErrPromptTooLong   = errors.New("prompt too long")
	ErrInvalidFilter   = errors.New("invalid filter")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
