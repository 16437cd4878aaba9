package stats

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormStorage implements Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a GORM-backed stats storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

var _ Storage = (*GormStorage)(nil)

func (s *GormStorage) MigrateStats(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&JobStat{})
}

// bucket returns the row for (queue, ts), creating an empty one first.
func (s *GormStorage) bucket(tx *gorm.DB, queue string, ts time.Time) (*JobStat, error) {
	var row JobStat
	err := tx.Where("queue = ? AND timestamp = ?", queue, ts).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = JobStat{Queue: queue, Timestamp: ts}
		return &row, tx.Create(&row).Error
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStorage) UpsertStatCounters(ctx context.Context, queue string, ts time.Time, c Counters) error {
	ts = ts.Truncate(time.Minute)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.bucket(tx, queue, ts)
		if err != nil {
			return err
		}
		return tx.Model(row).Updates(map[string]any{
			"completed": gorm.Expr("completed + ?", c.Completed),
			"failed":    gorm.Expr("failed + ?", c.Failed),
			"retried":   gorm.Expr("retried + ?", c.Retried),
			"stalled":   gorm.Expr("stalled + ?", c.Stalled),
		}).Error
	})
}

func (s *GormStorage) SnapshotQueueDepth(ctx context.Context, queue string, ts time.Time, pending, running int64) error {
	ts = ts.Truncate(time.Minute)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.bucket(tx, queue, ts)
		if err != nil {
			return err
		}
		return tx.Model(row).Updates(map[string]any{
			"pending": pending,
			"running": running,
		}).Error
	})
}

// GetStatsHistory returns buckets in time order. An empty queue matches all
// queues and zero bounds are open.
func (s *GormStorage) GetStatsHistory(ctx context.Context, queue string, since, until time.Time) ([]JobStat, error) {
	var stats []JobStat
	q := s.db.WithContext(ctx).Order("timestamp ASC, queue ASC")

	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until)
	}

	if err := q.Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *GormStorage) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&JobStat{})
	return result.RowsAffected, result.Error
}
