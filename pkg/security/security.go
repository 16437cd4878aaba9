// Package security provides validation, sanitization, and limits for the flow queue.
package security

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobNameLength is the maximum length for job names
	MaxJobNameLength = 255

	// MaxJobDataSize is the maximum size in bytes for job data (1MB)
	MaxJobDataSize = 1 << 20

	// MaxAttempts is the hard limit for attempts per job
	MaxAttempts = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored failure reasons
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxJobIDLength is the maximum length for custom job ids
	MaxJobIDLength = 255

	// MaxPriority is the lowest priority a job can have; 1 is served first.
	// priority<<32 plus the insertion counter must stay below 2^53.
	MaxPriority = 1<<21 - 1

	// MaxFlowDepth bounds the nesting of a flow tree
	MaxFlowDepth = 32
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_\-\.]*$`)

var numericID = regexp.MustCompile(`^[0-9]+$`)

// reservedIDs are the names of per-queue structures that share the key
// namespace of job records.
var reservedIDs = map[string]struct{}{
	"meta":             {},
	"id":               {},
	"wait":             {},
	"marker":           {},
	"active":           {},
	"paused":           {},
	"delayed":          {},
	"prioritized":      {},
	"completed":        {},
	"failed":           {},
	"waiting-children": {},
	"events":           {},
}

// IsReservedJobID reports whether id names a per-queue structure.
func IsReservedJobID(id string) bool {
	_, ok := reservedIDs[id]
	return ok
}

// ValidateJobName validates a job name
func ValidateJobName(name string) error {
	if name == "" {
		return core.ErrInvalidJobName
	}
	if len(name) > MaxJobNameLength {
		return core.ErrJobNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidJobName
	}
	return nil
}

// ValidateQueueName validates a queue name. Colons are rejected because
// they separate key segments in the redis backend.
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateJobID validates a custom job id. Numeric ids are reserved for the
// queue's own counter, and the names of queue structures cannot be used.
func ValidateJobID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxJobIDLength {
		return core.ErrJobIDTooLong
	}
	if numericID.MatchString(id) || strings.ContainsAny(id, ": \t\n") {
		return core.ErrInvalidJobID
	}
	if IsReservedJobID(id) {
		return core.ErrInvalidJobID
	}
	return nil
}

// ValidateOptions checks the numeric job options.
func ValidateOptions(opts core.JobOptions) error {
	if opts.Priority < 0 || opts.Priority > MaxPriority {
		return core.NewValidationError("priority", core.ErrInvalidPriority)
	}
	if opts.Delay < 0 {
		return core.NewValidationError("delay", core.ErrInvalidDelay)
	}
	if opts.Backoff != nil && opts.Backoff.Delay < 0 {
		return core.NewValidationError("backoff", core.ErrInvalidDelay)
	}
	if err := ValidateJobID(opts.JobID); err != nil {
		return core.NewValidationError("jobId", err)
	}
	if r := opts.Repeat; r != nil {
		if (r.Pattern == "") == (r.Every <= 0) {
			return core.NewValidationError("repeat", core.ErrInvalidRepeat)
		}
	}
	return nil
}

// ValidateJob checks everything a store needs before inserting job.
func ValidateJob(job *core.Job) error {
	if err := ValidateQueueName(job.Queue); err != nil {
		return core.NewValidationError("queue", err)
	}
	if err := ValidateJobName(job.Name); err != nil {
		return core.NewValidationError("name", err)
	}
	if len(job.Data) > MaxJobDataSize {
		return core.NewValidationError("data", core.ErrJobDataTooLarge)
	}
	return ValidateOptions(job.Opts)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures the attempt count is within limits
func ClampAttempts(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampLease keeps lock durations within sane bounds.
func ClampLease(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > time.Hour {
		return time.Hour
	}
	return d
}
