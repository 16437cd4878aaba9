package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-flow-queue/pkg/storage"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stats.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.WithPoolConfig(storage.SingleConnPoolConfig())))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupTestStatsDB(t *testing.T) *GormStorage {
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.MigrateStats(context.Background()))
	return s
}

func TestGormStorage_UpsertAndQuery(t *testing.T) {
	s := setupTestStatsDB(t)
	ctx := context.Background()
	ts := time.Now().Truncate(time.Minute)

	// First upsert creates a row
	require.NoError(t, s.UpsertStatCounters(ctx, "default", ts, Counters{Completed: 5, Failed: 2, Retried: 1}))
	// Second upsert increments
	require.NoError(t, s.UpsertStatCounters(ctx, "default", ts.Add(20*time.Second), Counters{Completed: 3, Failed: 1, Stalled: 2}))
	require.NoError(t, s.SnapshotQueueDepth(ctx, "default", ts, 10, 3))

	stats, err := s.GetStatsHistory(ctx, "", ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stats, 1)

	assert.Equal(t, "default", stats[0].Queue)
	assert.Equal(t, int64(8), stats[0].Completed)
	assert.Equal(t, int64(3), stats[0].Failed)
	assert.Equal(t, int64(1), stats[0].Retried)
	assert.Equal(t, int64(2), stats[0].Stalled)
	assert.Equal(t, int64(10), stats[0].Pending)
	assert.Equal(t, int64(3), stats[0].Running)
}

func TestGormStorage_QueryByQueue(t *testing.T) {
	s := setupTestStatsDB(t)
	ctx := context.Background()
	ts := time.Now().Truncate(time.Minute)

	require.NoError(t, s.UpsertStatCounters(ctx, "emails", ts, Counters{Completed: 1}))
	require.NoError(t, s.UpsertStatCounters(ctx, "reports", ts, Counters{Completed: 2}))
	require.NoError(t, s.UpsertStatCounters(ctx, "emails", ts.Add(time.Minute), Counters{Failed: 1}))

	emails, err := s.GetStatsHistory(ctx, "emails", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.True(t, emails[0].Timestamp.Before(emails[1].Timestamp))

	all, err := s.GetStatsHistory(ctx, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGormStorage_Prune(t *testing.T) {
	s := setupTestStatsDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Minute)

	require.NoError(t, s.UpsertStatCounters(ctx, "q", now.Add(-48*time.Hour), Counters{Completed: 1}))
	require.NoError(t, s.UpsertStatCounters(ctx, "q", now, Counters{Completed: 1}))

	n, err := s.PruneStats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := s.GetStatsHistory(ctx, "q", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, now.Unix(), rest[0].Timestamp.Unix())
}
