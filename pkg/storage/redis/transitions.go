package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// MoveToActive leases the next ready job of queue.
func (s *Store) MoveToActive(ctx context.Context, queue, token string, lease time.Duration) (*core.Job, error) {
	if token == "" {
		return nil, core.NewValidationError("token", core.ErrEmptyToken)
	}
	res, err := s.run(ctx, moveToActiveScript, queue, token, lease.Milliseconds())
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("move to active", err)
	}
	flat, ok := res.([]any)
	if !ok || len(flat) == 0 {
		return nil, fmt.Errorf("jobs/redis: move to active: unexpected reply %v", res)
	}
	id, _ := flat[0].(string)
	job, err := jobFromHash(queue, id, pairsToMap(flat[1:]))
	if err != nil {
		return nil, err
	}
	exp := s.now().Add(lease)
	job.LockToken = token
	job.LockExpiresAt = &exp
	return job, nil
}

// WaitForJob blocks on the queue marker until a job may be ready or the
// timeout elapses. Redis rounds the timeout to whole seconds.
func (s *Store) WaitForJob(ctx context.Context, queue string, timeout time.Duration) error {
	if timeout < time.Second {
		timeout = time.Second
	}
	err := s.client.BZPopMin(ctx, timeout, s.queueKey(queue)+"marker").Err()
	if err == nil || errors.Is(err, goredis.Nil) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return wrapErr("wait for job", err)
}

// ExtendLock renews the lease of an active job.
func (s *Store) ExtendLock(ctx context.Context, queue, id, token string, lease time.Duration) error {
	if token == "" {
		return core.NewValidationError("token", core.ErrEmptyToken)
	}
	res, err := s.run(ctx, extendLockScript, queue, id, token, lease.Milliseconds())
	if err != nil {
		return wrapErr("extend lock", err)
	}
	return codeErr(res)
}

// MoveToCompleted finishes an active job and resolves its flow parent.
func (s *Store) MoveToCompleted(ctx context.Context, queue, id, token string, returnValue []byte) error {
	res, err := s.run(ctx, moveToFinishedScript, queue, id, token, "completed", returnValue, "0", -1)
	if err != nil {
		return wrapErr("move to completed", err)
	}
	return codeErr(res)
}

// MoveToFailed records a failed attempt, retrying while attempts remain.
func (s *Store) MoveToFailed(ctx context.Context, queue, id, token, reason string, opts core.FailOptions) (core.JobState, error) {
	retryDelay := int64(-1)
	if opts.RetryDelay > 0 {
		retryDelay = opts.RetryDelay.Milliseconds()
	}
	reason = security.SanitizeErrorMessage(reason)
	res, err := s.run(ctx, moveToFinishedScript, queue, id, token, "failed", reason, flag(opts.NoRetry), retryDelay)
	if err != nil {
		return "", wrapErr("move to failed", err)
	}
	if err := codeErr(res); err != nil {
		return "", err
	}
	state, _ := res.(string)
	return core.JobState(state), nil
}

// UpdateProgress stores handler progress on an active job.
func (s *Store) UpdateProgress(ctx context.Context, queue, id, token string, progress []byte) error {
	res, err := s.run(ctx, updateProgressScript, queue, id, token, progress)
	if err != nil {
		return wrapErr("update progress", err)
	}
	return codeErr(res)
}

// PromoteDelayed moves up to limit due delayed jobs to their ready set.
func (s *Store) PromoteDelayed(ctx context.Context, queue string, now time.Time, limit int) (int, time.Time, error) {
	if limit <= 0 {
		limit = 1000
	}
	argv := []any{s.prefix, queue, now.UnixMilli(), limit}
	res, err := promoteDelayedScript.Run(ctx, s.client, []string{s.queueKey(queue)}, argv...).Int64Slice()
	if err != nil {
		return 0, time.Time{}, wrapErr("promote delayed", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("jobs/redis: promote delayed: unexpected reply %v", res)
	}
	var next time.Time
	if res[1] >= 0 {
		next = time.UnixMilli(res[1])
	}
	return int(res[0]), next, nil
}

// MoveStalledToWait reclaims active jobs whose lock key expired.
func (s *Store) MoveStalledToWait(ctx context.Context, queue string, maxStalledCount int) (core.StalledResult, error) {
	var out core.StalledResult
	res, err := s.run(ctx, moveStalledScript, queue, maxStalledCount)
	if err != nil {
		return out, wrapErr("move stalled", err)
	}
	parts, ok := res.([]any)
	if !ok || len(parts) != 2 {
		return out, fmt.Errorf("jobs/redis: move stalled: unexpected reply %v", res)
	}
	out.Recovered = toStrings(parts[0])
	out.Failed = toStrings(parts[1])
	return out, nil
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
