package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// skipIfNotPostgres skips the test when TEST_DATABASE_URL is not set.
func skipIfNotPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL-specific test")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrency: the queue_meta row lock serializes transitions
// ──────────────────────────────────────────────────────────────────────────────

func TestMoveToActive_ConcurrentLeasesAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	const n = 8
	for i := 0; i < n; i++ {
		addJob(t, s, "work", "task", core.JobOptions{})
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		errs []error
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.MoveToActive(ctx, "work", fmt.Sprintf("worker-%d", i), time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if job != nil {
				seen[job.ID] = true
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Len(t, seen, n, "concurrent leases must return different jobs")
	assert.Equal(t, int64(n), countOf(t, s, "work", core.StateActive))
}

func TestAddJobs_ConcurrentIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := &core.Job{Queue: "work", Name: "task"}
			if err := s.AddJobs(ctx, []*core.Job{job}); err == nil {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	unique := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		unique[id] = true
	}
	assert.Len(t, unique, n)
}

func TestPostgres_CompleteRacesWithReclaim(t *testing.T) {
	skipIfNotPostgres(t)

	ctx := context.Background()
	clock := newClock()
	s := newTestStorage(t, WithClock(clock.Now))

	addJob(t, s, "work", "task", core.JobOptions{})
	job, err := s.MoveToActive(ctx, "work", "slow", time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	var wg sync.WaitGroup
	var completeErr error
	var reclaimed core.StalledResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		completeErr = s.MoveToCompleted(ctx, "work", job.ID, "slow", nil)
	}()
	go func() {
		defer wg.Done()
		reclaimed, _ = s.MoveStalledToWait(ctx, "work", 1)
	}()
	wg.Wait()

	// The lease expired before either ran, so the reclaim always wins.
	assert.ErrorIs(t, completeErr, core.ErrLockMismatch)
	assert.Equal(t, []string{job.ID}, reclaimed.Recovered)
	assert.Equal(t, core.StateWaiting, stateOf(t, s, "work", job.ID))
}
