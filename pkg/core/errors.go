package core

import (
	"errors"
	"fmt"
	"time"
)

// Transition errors
var (
	ErrLockMismatch     = errors.New("jobs: lock token does not match, job is owned by another worker")
	ErrJobNotFound      = errors.New("jobs: job not found")
	ErrJobNotActive     = errors.New("jobs: job is not active")
	ErrJobActive        = errors.New("jobs: job is active and cannot be removed")
	ErrDuplicateJob     = errors.New("jobs: duplicate job id")
	ErrStoreUnavailable = errors.New("jobs: store unavailable")
	ErrNoEventSource    = errors.New("jobs: storage does not publish events")
)

// Validation errors
var (
	ErrValidation         = errors.New("jobs: validation failed")
	ErrInvalidJobName     = errors.New("jobs: invalid job name (must be alphanumeric, start with letter)")
	ErrJobNameTooLong     = errors.New("jobs: job name too long")
	ErrInvalidQueueName   = errors.New("jobs: invalid queue name")
	ErrQueueNameTooLong   = errors.New("jobs: queue name too long")
	ErrInvalidJobID       = errors.New("jobs: invalid custom job id (must not be numeric or contain ':')")
	ErrJobIDTooLong       = errors.New("jobs: custom job id exceeds maximum length")
	ErrJobDataTooLarge    = errors.New("jobs: job data exceeds size limit")
	ErrInvalidPriority    = errors.New("jobs: priority out of range")
	ErrInvalidDelay       = errors.New("jobs: delay must not be negative")
	ErrInvalidState       = errors.New("jobs: invalid job state")
	ErrEmptyToken         = errors.New("jobs: lock token is required")
	ErrInvalidRepeat      = errors.New("jobs: repeat needs exactly one of pattern or every")
	ErrFlowTooDeep        = errors.New("jobs: flow exceeds maximum depth")
	ErrHandlerNotFound    = errors.New("jobs: no handler registered for job name")
	ErrInvalidLockSetting = errors.New("jobs: lock renew time must be shorter than lock duration")
)

// ValidationError reports input rejected before any store mutation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("jobs: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// NewValidationError wraps err as a validation failure of field.
func NewValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}

// Unavailable marks err as a store connectivity failure while keeping the
// original error in the chain.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}
