package core

import (
	"context"
	"time"
)

// Starter is the interface for starting long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// StalledResult reports the outcome of one stall check.
type StalledResult struct {
	// Recovered jobs went back to their ready set.
	Recovered []string
	// Failed jobs exceeded the stall limit.
	Failed []string
}

// Storage defines the atomic transition contract of the queue.
//
// Every method that changes state is a single atomic operation on the
// backend: it checks the source state, checks lease ownership for
// transitions out of active, moves the job between state sets, updates the
// record and emits one event per affected job.
type Storage interface {
	// Migrate prepares the backend (tables, schema). No-op where schemaless.
	Migrate(ctx context.Context) error

	// AddJobs inserts independent jobs all-or-nothing. ID and State are
	// filled in on every job. A job whose custom id exists is left alone
	// and reports the stored state instead.
	AddJobs(ctx context.Context, jobs []*Job) error
	// AddFlow inserts a tree of jobs all-or-nothing.
	AddFlow(ctx context.Context, nodes []FlowNode) error

	// MoveToActive leases the next ready job, or returns nil when the queue
	// is empty or paused.
	MoveToActive(ctx context.Context, queue, token string, lease time.Duration) (*Job, error)
	// WaitForJob blocks until a job may be ready or timeout elapses.
	WaitForJob(ctx context.Context, queue string, timeout time.Duration) error
	ExtendLock(ctx context.Context, queue, id, token string, lease time.Duration) error
	MoveToCompleted(ctx context.Context, queue, id, token string, returnValue []byte) error
	// MoveToFailed records a failed attempt and returns where the job went:
	// waiting, prioritized, paused or delayed for a retry, failed otherwise.
	MoveToFailed(ctx context.Context, queue, id, token, reason string, opts FailOptions) (JobState, error)
	UpdateProgress(ctx context.Context, queue, id, token string, progress []byte) error

	// PromoteDelayed moves due delayed jobs to their ready set and returns
	// how many moved and when the next delayed job is due (zero if none).
	PromoteDelayed(ctx context.Context, queue string, now time.Time, limit int) (int, time.Time, error)
	// MoveStalledToWait reclaims active jobs whose lease expired.
	MoveStalledToWait(ctx context.Context, queue string, maxStalledCount int) (StalledResult, error)

	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	IsPaused(ctx context.Context, queue string) (bool, error)
	// Drain removes ready jobs, and delayed ones when includeDelayed is set.
	// Active jobs are never touched.
	Drain(ctx context.Context, queue string, includeDelayed bool) error
	// Clean removes up to limit jobs in state that are older than grace.
	Clean(ctx context.Context, queue string, state JobState, grace time.Duration, limit int) ([]string, error)
	Remove(ctx context.Context, queue, id string) error
	// Obliterate deletes every record of the queue.
	Obliterate(ctx context.Context, queue string) error

	// GetJob returns nil when the job does not exist.
	GetJob(ctx context.Context, queue, id string) (*Job, error)
	GetJobState(ctx context.Context, queue, id string) (JobState, error)
	GetJobCounts(ctx context.Context, queue string, states ...JobState) (JobCounts, error)
	GetDependencies(ctx context.Context, queue, id string) (*Dependencies, error)
}

// EventPruner is implemented by backends that persist events and need
// periodic trimming.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}
