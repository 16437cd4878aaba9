package core

import (
	"context"
	"time"
)

// QueueMeta holds queue-wide state for the SQL backend.
type QueueMeta struct {
	Queue    string `gorm:"primaryKey;size:255"`
	Paused   bool   `gorm:"default:false"`
	PausedAt *time.Time
	// LastID is the numeric id counter of the queue.
	LastID int64 `gorm:"default:0"`
	// Seq orders records inside the ready sets.
	Seq       int64     `gorm:"default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name of QueueMeta.
func (QueueMeta) TableName() string { return "queue_meta" }

// QueueStats summarizes one queue for inspection.
type QueueStats struct {
	Queue  string    `json:"queue"`
	Paused bool      `json:"paused"`
	Counts JobCounts `json:"counts"`
}

// JobFilter selects jobs for inspection. Zero fields match everything.
type JobFilter struct {
	Queue  string
	State  JobState
	Name   string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Inspector is implemented by backends that can list queues and search
// jobs across states.
type Inspector interface {
	ListQueues(ctx context.Context) ([]QueueStats, error)
	SearchJobs(ctx context.Context, filter JobFilter) ([]*Job, int64, error)
}
