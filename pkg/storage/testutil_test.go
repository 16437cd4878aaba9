package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh SQLite file limited to one connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")
		require.NoError(t, ConfigurePool(db, MaxOpenConns(4), MaxIdleConns(1)))

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}

	path := filepath.Join(t.TempDir(), "flowq.db")
	db, err := gorm.Open(sqlite.Open(path), cfg)
	require.NoError(t, err, "open sqlite test db")
	require.NoError(t, ConfigurePool(db, WithPoolConfig(SingleConnPoolConfig())))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without a fresh
// database per test.
func cleanupPostgresDB(db *gorm.DB) {
	for _, tbl := range []string{"job_dependencies", "job_events", "job_tombstones", "queue_meta", "jobs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestStorage returns a migrated storage with a fast poll interval.
func newTestStorage(t *testing.T, opts ...GormOption) *GormStorage {
	t.Helper()
	opts = append([]GormOption{WithPollInterval(10 * time.Millisecond)}, opts...)
	s := NewGormStorage(openTestDB(t), opts...)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// testClock is a settable clock for lease and delay tests.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *testClock {
	return &testClock{now: time.UnixMilli(time.Now().UnixMilli())}
}

func addJob(t *testing.T, s *GormStorage, queue, name string, opts core.JobOptions) *core.Job {
	t.Helper()
	job := &core.Job{Queue: queue, Name: name, Data: []byte(`{}`), Opts: opts}
	require.NoError(t, s.AddJobs(context.Background(), []*core.Job{job}))
	return job
}

// lease leases the next job of queue with a fixed token.
func lease(t *testing.T, s *GormStorage, queue, token string) *core.Job {
	t.Helper()
	job, err := s.MoveToActive(context.Background(), queue, token, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a job to lease")
	return job
}

func stateOf(t *testing.T, s *GormStorage, queue, id string) core.JobState {
	t.Helper()
	st, err := s.GetJobState(context.Background(), queue, id)
	require.NoError(t, err)
	return st
}

func countOf(t *testing.T, s *GormStorage, queue string, state core.JobState) int64 {
	t.Helper()
	counts, err := s.GetJobCounts(context.Background(), queue, state)
	require.NoError(t, err)
	return counts[state]
}

// flowOf builds pre-order nodes for one parent with n children in childQueue.
func flowOf(parentQueue, childQueue string, n int) []core.FlowNode {
	nodes := []core.FlowNode{{
		Job:      &core.Job{Queue: parentQueue, Name: "parent"},
		Parent:   -1,
		Children: n,
	}}
	for i := 0; i < n; i++ {
		nodes = append(nodes, core.FlowNode{
			Job:    &core.Job{Queue: childQueue, Name: "child"},
			Parent: 0,
		})
	}
	return nodes
}
