// Package stats keeps per-minute throughput and depth history for queues.
package stats

import (
	"context"
	"time"
)

// JobStat stores per-queue statistics bucketed by minute.
type JobStat struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Queue     string    `gorm:"uniqueIndex:idx_job_stats_queue_ts;size:255;not null" json:"queue"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_job_stats_queue_ts;not null" json:"timestamp"`
	Pending   int64     `gorm:"default:0" json:"pending"`
	Running   int64     `gorm:"default:0" json:"running"`
	Completed int64     `gorm:"default:0" json:"completed"`
	Failed    int64     `gorm:"default:0" json:"failed"`
	Retried   int64     `gorm:"default:0" json:"retried"`
	Stalled   int64     `gorm:"default:0" json:"stalled"`
}

// Counters are the event-driven increments flushed into one bucket.
type Counters struct {
	Completed int64
	Failed    int64
	Retried   int64
	Stalled   int64
}

func (c Counters) zero() bool {
	return c.Completed == 0 && c.Failed == 0 && c.Retried == 0 && c.Stalled == 0
}

// Storage is the persistence contract for stats rows.
type Storage interface {
	MigrateStats(ctx context.Context) error
	UpsertStatCounters(ctx context.Context, queue string, ts time.Time, c Counters) error
	SnapshotQueueDepth(ctx context.Context, queue string, ts time.Time, pending, running int64) error
	GetStatsHistory(ctx context.Context, queue string, since, until time.Time) ([]JobStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}
