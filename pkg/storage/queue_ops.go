package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Pause moves the ready jobs of queue to the paused state. Workers stop
// leasing until Resume.
func (s *GormStorage) Pause(ctx context.Context, queue string) error {
	return s.transact(ctx, "pause", func(t *txn) error {
		m, err := t.meta(queue)
		if err != nil || m.Paused {
			return err
		}
		err = t.tx.Model(&core.Job{}).
			Where("queue = ? AND state IN ?", queue, []core.JobState{core.StateWaiting, core.StatePrioritized}).
			Update("state", core.StatePaused).Error
		if err != nil {
			return err
		}
		pausedAt := t.now
		m.Paused = true
		m.PausedAt = &pausedAt
		t.dirty[queue] = true
		return t.emit(&core.QueueEvent{Type: core.EventPaused, Queue: queue, Timestamp: t.now})
	})
}

// Resume returns paused jobs to their ready sets in their original order.
func (s *GormStorage) Resume(ctx context.Context, queue string) error {
	return s.transact(ctx, "resume", func(t *txn) error {
		m, err := t.meta(queue)
		if err != nil || !m.Paused {
			return err
		}
		m.Paused = false
		m.PausedAt = nil
		t.dirty[queue] = true

		var paused []*core.Job
		err = t.tx.Where("queue = ? AND state = ?", queue, core.StatePaused).
			Order("seq").
			Find(&paused).Error
		if err != nil {
			return err
		}
		for _, job := range paused {
			if _, err := t.addToReady(job); err != nil {
				return err
			}
		}
		return t.emit(&core.QueueEvent{Type: core.EventResumed, Queue: queue, Timestamp: t.now})
	})
}

// IsPaused reports whether queue is paused.
func (s *GormStorage) IsPaused(ctx context.Context, queue string) (bool, error) {
	var m core.QueueMeta
	err := s.db.WithContext(ctx).Where("queue = ?", queue).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("is paused", err)
	}
	return m.Paused, nil
}

// Drain removes waiting, paused and prioritized jobs, plus delayed ones when
// includeDelayed is set. Parents waiting for children stay and are resolved
// through their removed children.
func (s *GormStorage) Drain(ctx context.Context, queue string, includeDelayed bool) error {
	states := []core.JobState{core.StateWaiting, core.StatePaused, core.StatePrioritized}
	if includeDelayed {
		states = append(states, core.StateDelayed)
	}
	var removed int
	err := s.transact(ctx, "drain", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		var jobs []*core.Job
		err := t.tx.Where("queue = ? AND state IN ?", queue, states).
			Order("seq").
			Find(&jobs).Error
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if err := t.removeJob(job, job.State); err != nil {
				return err
			}
		}
		removed = len(jobs)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("queue drained", "queue", queue, "removed", removed)
	return nil
}

var cleanableStates = map[core.JobState]bool{
	core.StateCompleted:   true,
	core.StateFailed:      true,
	core.StateWaiting:     true,
	core.StatePaused:      true,
	core.StateDelayed:     true,
	core.StatePrioritized: true,
}

// Clean removes up to limit jobs in state that are older than grace.
// Finished jobs are aged by finish time, the rest by creation time.
func (s *GormStorage) Clean(ctx context.Context, queue string, state core.JobState, grace time.Duration, limit int) ([]string, error) {
	if !cleanableStates[state] {
		return nil, core.NewValidationError("state", core.ErrInvalidState)
	}
	cutoff := time.UnixMilli(s.now().Add(-grace).UnixMilli())
	var removed []string
	err := s.transact(ctx, "clean", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		q := t.tx.Where("queue = ? AND state = ?", queue, state)
		if state == core.StateCompleted || state == core.StateFailed {
			q = q.Where("finished_on <= ?", cutoff).Order("finished_on, seq")
		} else {
			q = q.Where("timestamp <= ?", cutoff).Order("timestamp, seq")
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		var jobs []*core.Job
		if err := q.Find(&jobs).Error; err != nil {
			return err
		}
		for _, job := range jobs {
			if err := t.removeJob(job, state); err != nil {
				return err
			}
			removed = append(removed, job.ID)
		}
		if len(removed) > 0 {
			return t.emit(&core.QueueEvent{Type: core.EventCleaned, Queue: queue, Count: len(removed), Timestamp: t.now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Remove deletes one job that is not active.
func (s *GormStorage) Remove(ctx context.Context, queue, id string) error {
	return s.transact(ctx, "remove", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		job, err := t.lockJob(queue, id)
		if err != nil {
			return err
		}
		if job == nil {
			return core.ErrJobNotFound
		}
		if job.State == core.StateActive {
			return core.ErrJobActive
		}
		return t.removeJob(job, job.State)
	})
}

// Obliterate deletes every record of queue.
func (s *GormStorage) Obliterate(ctx context.Context, queue string) error {
	var deleted int64
	err := s.transact(ctx, "obliterate", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		res := t.tx.Where("queue = ?", queue).Delete(&core.Job{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		for _, m := range []any{&jobTombstone{}, &EventRecord{}, &core.QueueMeta{}} {
			if err := t.tx.Where("queue = ?", queue).Delete(m).Error; err != nil {
				return err
			}
		}
		delete(t.dirty, queue)
		return t.tx.Where("parent_queue = ?", queue).Delete(&jobDependency{}).Error
	})
	if err != nil {
		return err
	}
	s.logger.Debug("queue obliterated", "queue", queue, "jobs", deleted)
	return nil
}

// GetJobCounts counts jobs per state; all states when none are given.
func (s *GormStorage) GetJobCounts(ctx context.Context, queue string, states ...core.JobState) (core.JobCounts, error) {
	if len(states) == 0 {
		states = core.AllStates
	}
	counts := make(core.JobCounts, len(states))
	for _, st := range states {
		if !st.Valid() {
			return nil, core.NewValidationError("state", fmt.Errorf("%w: %q", core.ErrInvalidState, st))
		}
		counts[st] = 0
	}

	type row struct {
		State string
		Count int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("state, count(*) as count").
		Where("queue = ? AND state IN ?", queue, states).
		Group("state").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("get job counts", err)
	}
	for _, r := range rows {
		counts[core.JobState(r.State)] = r.Count
	}
	return counts, nil
}
