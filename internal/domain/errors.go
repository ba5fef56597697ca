package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed or missing caller input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownStyle is returned when a style id has no prompt mapping
	ErrUnknownStyle = errors.New("unknown style")

	// ErrJobNotFound is returned when a job cannot be found by id or correlation id
	ErrJobNotFound = errors.New("job not found")

	// ErrSignatureInvalid is returned when a webhook signature does not match its body
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrInvalidTransition is returned when the requested status is not reachable from the current one
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCorrelationConflict is returned when a correlation id is already bound
	ErrCorrelationConflict = errors.New("correlation id conflict")

	// ErrProviderUnavailable is returned when an external provider cannot accept work
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrTimeout is returned when a provider call or store operation exceeds its deadline
	ErrTimeout = errors.New("operation timed out")

	// ErrUnknownPlan is returned when a paid amount matches no credit plan
	ErrUnknownPlan = errors.New("unknown credit plan")
)

// NewInvalidArgument builds an ErrInvalidArgument with a formatted detail
func NewInvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is worth retrying by the caller
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrTimeout)
}
