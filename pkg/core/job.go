// Package core provides the domain models and interfaces for the flow queue.
package core

import (
	"time"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	StateWaiting         JobState = "waiting"
	StateDelayed         JobState = "delayed"
	StatePrioritized     JobState = "prioritized"
	StateActive          JobState = "active"
	StateCompleted       JobState = "completed"
	StateFailed          JobState = "failed"
	StatePaused          JobState = "paused"
	StateWaitingChildren JobState = "waiting-children"

	// StateRemoved is reported for records that were deleted by a flow
	// cleanup and left a tombstone behind.
	StateRemoved JobState = "removed"
	// StateUnknown is reported for records that do not exist.
	StateUnknown JobState = "unknown"
)

// AllStates lists the states that hold job records, in reporting order.
var AllStates = []JobState{
	StateWaiting,
	StatePaused,
	StatePrioritized,
	StateDelayed,
	StateWaitingChildren,
	StateActive,
	StateCompleted,
	StateFailed,
}

// Valid reports whether s is a state that holds job records.
func (s JobState) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// DefaultJobName is used when a job is added without a name.
const DefaultJobName = "__default__"

// StalledReason is the failure reason for jobs that stalled too often.
const StalledReason = "job stalled more than allowable limit"

// Job is a unit of work owned by exactly one queue.
//
// The GORM tags describe the SQL backend's table; the Redis backend maps the
// same fields onto a hash.
type Job struct {
	Queue string     `gorm:"primaryKey;size:255"`
	ID    string     `gorm:"primaryKey;size:255"`
	Name  string     `gorm:"index;size:255;not null"`
	Data  []byte     `gorm:"type:bytes"`
	Opts  JobOptions `gorm:"serializer:json"`

	State    JobState `gorm:"index;size:20"`
	Priority int      `gorm:"index;default:0"`
	// Seq orders records inside the ready sets.
	Seq int64 `gorm:"index" json:"-"`

	Progress     []byte `gorm:"type:bytes"`
	ReturnValue  []byte `gorm:"type:bytes"`
	FailedReason string `gorm:"type:text"`
	AttemptsMade int    `gorm:"default:0"`
	StalledCount int    `gorm:"default:0"`

	Timestamp   time.Time  `gorm:"index"`
	RunAt       *time.Time `gorm:"index"`
	ProcessedOn *time.Time
	FinishedOn  *time.Time

	LockToken     string     `gorm:"size:64"`
	LockExpiresAt *time.Time `gorm:"index"`

	// Flow back-reference, empty for top-level jobs.
	ParentID    string `gorm:"index:idx_jobs_parent;size:255"`
	ParentQueue string `gorm:"index:idx_jobs_parent;size:255"`

	// Set on parents only.
	DependencyCount int `gorm:"default:0"`
	ChildCount      int `gorm:"default:0"`
}

// Key returns the queue-qualified identifier of the job.
func (j *Job) Key() JobKey {
	return JobKey{Queue: j.Queue, ID: j.ID}
}

// HasParent reports whether the job is a child in a flow.
func (j *Job) HasParent() bool {
	return j.ParentID != ""
}

// MaxAttempts returns the number of attempts the job gets before it fails
// for good.
func (j *Job) MaxAttempts() int {
	if j.Opts.Attempts < 1 {
		return 1
	}
	return j.Opts.Attempts
}

// JobKey identifies a job across queues.
type JobKey struct {
	Queue string `json:"queue"`
	ID    string `json:"id"`
}

func (k JobKey) String() string {
	return k.Queue + ":" + k.ID
}

// JobCounts maps a state to the number of jobs in it.
type JobCounts map[JobState]int64

// Total sums the counts of all states present in the map.
func (c JobCounts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}
