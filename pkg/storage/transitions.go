package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// releasedLock clears the lease columns of a job leaving active.
var releasedLock = map[string]any{
	"lock_token":      "",
	"lock_expires_at": nil,
}

func merge(fields ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

// nextReady locks the next job to lease: lowest priority number first, then
// the oldest waiting job.
func (t *txn) nextReady(queue string) (*core.Job, error) {
	var job core.Job
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue = ? AND state = ?", queue, core.StatePrioritized).
		Order("priority, seq").
		Take(&job).Error
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue = ? AND state = ?", queue, core.StateWaiting).
		Order("seq").
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *txn) readyCount(queue string) (int64, error) {
	var n int64
	err := t.tx.Model(&core.Job{}).
		Where("queue = ? AND state IN ?", queue, []core.JobState{core.StateWaiting, core.StatePrioritized}).
		Count(&n).Error
	return n, err
}

// MoveToActive leases the next ready job of queue.
func (s *GormStorage) MoveToActive(ctx context.Context, queue, token string, lease time.Duration) (*core.Job, error) {
	if token == "" {
		return nil, core.NewValidationError("token", core.ErrEmptyToken)
	}
	var leased *core.Job
	err := s.transact(ctx, "move to active", func(t *txn) error {
		m, err := t.meta(queue)
		if err != nil || m.Paused {
			return err
		}
		job, err := t.nextReady(queue)
		if err != nil || job == nil {
			return err
		}
		prev := job.State
		exp := t.now.Add(lease)
		err = t.update(job, map[string]any{
			"state":           core.StateActive,
			"processed_on":    t.now,
			"finished_on":     nil,
			"lock_token":      token,
			"lock_expires_at": exp,
		})
		if err != nil {
			return err
		}
		job.State = core.StateActive
		processed := t.now
		job.ProcessedOn = &processed
		job.FinishedOn = nil
		job.LockToken = token
		job.LockExpiresAt = &exp
		if err := t.emit(t.jobEvent(core.EventActive, job, prev)); err != nil {
			return err
		}
		left, err := t.readyCount(queue)
		if err != nil {
			return err
		}
		if left == 0 {
			if err := t.emit(&core.QueueEvent{Type: core.EventDrained, Queue: queue, Timestamp: t.now}); err != nil {
				return err
			}
		}
		leased = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// WaitForJob polls until queue has a ready job or the timeout elapses.
func (s *GormStorage) WaitForJob(ctx context.Context, queue string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var n int64
		err := s.db.WithContext(ctx).Model(&core.Job{}).
			Where("queue = ? AND state IN ?", queue, []core.JobState{core.StateWaiting, core.StatePrioritized}).
			Limit(1).
			Count(&n).Error
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wrapErr("wait for job", err)
		}
		if n > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
		}
	}
}

// ExtendLock renews the lease of an active job.
func (s *GormStorage) ExtendLock(ctx context.Context, queue, id, token string, lease time.Duration) error {
	if token == "" {
		return core.NewValidationError("token", core.ErrEmptyToken)
	}
	return s.transact(ctx, "extend lock", func(t *txn) error {
		job, err := t.checkLock(queue, id, token)
		if err != nil {
			return err
		}
		return t.update(job, map[string]any{"lock_expires_at": t.now.Add(lease)})
	})
}

// MoveToCompleted finishes an active job and resolves its flow parent.
func (s *GormStorage) MoveToCompleted(ctx context.Context, queue, id, token string, returnValue []byte) error {
	return s.transact(ctx, "move to completed", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		job, err := t.checkLock(queue, id, token)
		if err != nil {
			return err
		}
		job.AttemptsMade++
		err = t.update(job, merge(releasedLock, map[string]any{
			"state":         core.StateCompleted,
			"return_value":  returnValue,
			"finished_on":   t.now,
			"attempts_made": job.AttemptsMade,
		}))
		if err != nil {
			return err
		}
		ev := t.jobEvent(core.EventCompleted, job, core.StateActive)
		ev.ReturnValue = returnValue
		if err := t.emit(ev); err != nil {
			return err
		}
		if job.HasParent() {
			if err := t.completeChild(job, returnValue); err != nil {
				return err
			}
		}
		if job.Opts.RemoveOnComplete {
			return t.deleteJob(job)
		}
		return nil
	})
}

// MoveToFailed records a failed attempt, retrying while attempts remain.
func (s *GormStorage) MoveToFailed(ctx context.Context, queue, id, token, reason string, opts core.FailOptions) (core.JobState, error) {
	reason = security.SanitizeErrorMessage(reason)
	var result core.JobState
	err := s.transact(ctx, "move to failed", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		job, err := t.checkLock(queue, id, token)
		if err != nil {
			return err
		}
		job.AttemptsMade++
		job.FailedReason = reason
		err = t.update(job, merge(releasedLock, map[string]any{
			"attempts_made": job.AttemptsMade,
			"failed_reason": reason,
		}))
		if err != nil {
			return err
		}

		if opts.NoRetry || job.AttemptsMade >= job.MaxAttempts() {
			result = core.StateFailed
			return t.finishFailed(job, reason)
		}

		delay := opts.RetryDelay
		if delay <= 0 {
			delay = job.Opts.Backoff.Next(job.AttemptsMade)
		}
		if delay > 0 {
			runAt := t.now.Add(delay)
			if err := t.update(job, map[string]any{"state": core.StateDelayed, "run_at": runAt}); err != nil {
				return err
			}
			result = core.StateDelayed
		} else if result, err = t.addToReady(job); err != nil {
			return err
		}
		ev := t.jobEvent(core.EventRetrying, job, core.StateActive)
		ev.FailedReason = reason
		ev.Delay = delay
		return t.emit(ev)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// UpdateProgress stores handler progress on an active job.
func (s *GormStorage) UpdateProgress(ctx context.Context, queue, id, token string, progress []byte) error {
	return s.transact(ctx, "update progress", func(t *txn) error {
		job, err := t.checkLock(queue, id, token)
		if err != nil {
			return err
		}
		if err := t.update(job, map[string]any{"progress": progress}); err != nil {
			return err
		}
		ev := t.jobEvent(core.EventProgress, job, "")
		ev.Progress = progress
		return t.emit(ev)
	})
}

// PromoteDelayed moves up to limit due delayed jobs to their ready set.
func (s *GormStorage) PromoteDelayed(ctx context.Context, queue string, now time.Time, limit int) (int, time.Time, error) {
	if limit <= 0 {
		limit = 1000
	}
	var moved int
	var next time.Time
	err := s.transact(ctx, "promote delayed", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		var due []*core.Job
		err := t.tx.Where("queue = ? AND state = ? AND run_at <= ?", queue, core.StateDelayed, now).
			Order("run_at, seq").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		for _, job := range due {
			state, err := t.addToReady(job)
			if err != nil {
				return err
			}
			if err := t.emit(t.jobEvent(core.EventType(state), job, core.StateDelayed)); err != nil {
				return err
			}
		}
		moved = len(due)

		var head core.Job
		err = t.tx.Select("run_at").
			Where("queue = ? AND state = ?", queue, core.StateDelayed).
			Order("run_at").
			Take(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if head.RunAt != nil {
			next = *head.RunAt
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return moved, next, nil
}

// MoveStalledToWait reclaims active jobs whose lease expired.
func (s *GormStorage) MoveStalledToWait(ctx context.Context, queue string, maxStalledCount int) (core.StalledResult, error) {
	var out core.StalledResult
	err := s.transact(ctx, "move stalled", func(t *txn) error {
		if _, err := t.meta(queue); err != nil {
			return err
		}
		var stalled []*core.Job
		err := t.tx.Where("queue = ? AND state = ? AND (lock_expires_at IS NULL OR lock_expires_at < ?)",
			queue, core.StateActive, t.now).
			Order("processed_on").
			Find(&stalled).Error
		if err != nil {
			return err
		}
		for _, job := range stalled {
			job.StalledCount++
			err := t.update(job, merge(releasedLock, map[string]any{"stalled_count": job.StalledCount}))
			if err != nil {
				return err
			}
			if err := t.emit(t.jobEvent(core.EventStalled, job, core.StateActive)); err != nil {
				return err
			}
			if job.StalledCount > maxStalledCount {
				if err := t.finishFailed(job, core.StalledReason); err != nil {
					return err
				}
				out.Failed = append(out.Failed, job.ID)
				continue
			}
			state, err := t.addToReady(job)
			if err != nil {
				return err
			}
			if err := t.emit(t.jobEvent(core.EventType(state), job, core.StateActive)); err != nil {
				return err
			}
			out.Recovered = append(out.Recovered, job.ID)
		}
		return nil
	})
	return out, err
}
