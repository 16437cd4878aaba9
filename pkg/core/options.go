package core

import "time"

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff configures the delay between retry attempts.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the next attempt, given the number of
// attempts already made.
func (b *Backoff) Next(attemptsMade int) time.Duration {
	if b == nil || b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffExponential {
		if attemptsMade < 1 {
			attemptsMade = 1
		}
		if attemptsMade > 32 {
			attemptsMade = 32
		}
		return b.Delay * time.Duration(1<<(attemptsMade-1))
	}
	return b.Delay
}

// Repeat configures a repeatable job. Exactly one of Pattern or Every
// should be set.
type Repeat struct {
	// Pattern is a five field cron expression.
	Pattern string        `json:"pattern,omitempty"`
	Every   time.Duration `json:"every,omitempty"`
	// Limit caps the number of iterations, 0 means unlimited.
	Limit int `json:"limit,omitempty"`
	// Count is the iteration number of this job, managed by the worker.
	Count int `json:"count,omitempty"`
	// Key groups the iterations of one repeatable job.
	Key string `json:"key,omitempty"`
}

// OptionField names a JobOptions field whose zero value is meaningful.
type OptionField uint8

const (
	FieldDelay OptionField = 1 << iota
	FieldPriority
	FieldAttempts
	FieldRemoveOnComplete
	FieldRemoveOnFail
)

// JobOptions controls how a job is placed and retried.
type JobOptions struct {
	// JobID overrides the generated numeric id. Adding a job whose custom
	// id already exists returns the existing record.
	JobID    string        `json:"jobId,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	Priority int           `json:"priority,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Backoff  *Backoff      `json:"backoff,omitempty"`

	RemoveOnComplete bool `json:"removeOnComplete,omitempty"`
	RemoveOnFail     bool `json:"removeOnFail,omitempty"`

	Repeat *Repeat `json:"repeat,omitempty"`

	// Explicit marks fields that were set on purpose, so that their zero
	// value still overrides a default in MergeOptions.
	Explicit OptionField `json:"-"`
}

// Mark flags fields as explicitly set.
func (o *JobOptions) Mark(fields ...OptionField) {
	for _, f := range fields {
		o.Explicit |= f
	}
}

func (o JobOptions) has(f OptionField, nonZero bool) bool {
	return nonZero || o.Explicit&f != 0
}

// MergeOptions returns defaults overridden by every field of opts that is
// non-zero or marked explicit. The merge is shallow: a Backoff or Repeat in
// opts replaces the default one entirely.
func MergeOptions(defaults, opts JobOptions) JobOptions {
	out := defaults
	out.Explicit |= opts.Explicit
	if opts.JobID != "" {
		out.JobID = opts.JobID
	}
	if opts.has(FieldDelay, opts.Delay != 0) {
		out.Delay = opts.Delay
	}
	if opts.has(FieldPriority, opts.Priority != 0) {
		out.Priority = opts.Priority
	}
	if opts.has(FieldAttempts, opts.Attempts != 0) {
		out.Attempts = opts.Attempts
	}
	if opts.Backoff != nil {
		out.Backoff = opts.Backoff
	}
	if opts.has(FieldRemoveOnComplete, opts.RemoveOnComplete) {
		out.RemoveOnComplete = opts.RemoveOnComplete
	}
	if opts.has(FieldRemoveOnFail, opts.RemoveOnFail) {
		out.RemoveOnFail = opts.RemoveOnFail
	}
	if opts.Repeat != nil {
		out.Repeat = opts.Repeat
	}
	return out
}

// FailOptions steers a single failure report.
type FailOptions struct {
	// NoRetry fails the job for good regardless of remaining attempts.
	NoRetry bool
	// RetryDelay, when positive, replaces the backoff policy for this retry.
	RetryDelay time.Duration
}
