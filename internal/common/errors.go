// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrRuleReferenced    = errors.New("rule is referenced by a composite rule")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Validation errors. Every *ValidationError matches ErrValidation.
	ErrValidation      = errors.New("validation failed")
	ErrInvalidValue    = errors.New("invalid value")
	ErrDangerousRegex  = errors.New("regex may cause catastrophic backtracking")
	ErrRegexTooComplex = errors.New("regex is too complex")
	ErrRegexTimeout    = errors.New("regex exceeded its time budget")
	ErrDuplicateRule   = errors.New("duplicate rule")
	ErrInvalidGraph    = errors.New("invalid composite rule graph")

	// Evaluation errors.
	ErrEvaluationFault = errors.New("rule evaluation fault")

	// Feedback errors.
	ErrCounterWriteConflict = errors.New("counter write conflict")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ValidationError reports why a rule definition was refused. It is always
// recoverable by the caller and is never retried.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Kind, e.Reason)
}

// Unwrap exposes both the specific kind and ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{e.Kind, ErrValidation}
}

// NewValidationError builds a ValidationError of the given kind.
func NewValidationError(kind error, field, format string, args ...any) error {
	return &ValidationError{
		Kind:   kind,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// EvaluationFault describes a rule that could not be evaluated safely. It
// is contained to the single rule and never aborts ranking.
type EvaluationFault struct {
	Err     error
	Budget  time.Duration
	RuleID  int64
	Elapsed time.Duration
}

func (e *EvaluationFault) Error() string {
	return fmt.Sprintf("rule %d: %v (budget %s)", e.RuleID, e.Err, e.Budget)
}

// Unwrap returns the underlying cause.
func (e *EvaluationFault) Unwrap() []error {
	return []error{e.Err, ErrEvaluationFault}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrCounterWriteConflict) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
