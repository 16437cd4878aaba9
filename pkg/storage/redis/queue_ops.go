package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Pause moves the ready jobs of queue to the paused list. Workers stop
// leasing until Resume.
func (s *Store) Pause(ctx context.Context, queue string) error {
	_, err := s.run(ctx, pauseScript, queue, "pause")
	return wrapErr("pause", err)
}

// Resume returns paused jobs to their ready sets.
func (s *Store) Resume(ctx context.Context, queue string) error {
	_, err := s.run(ctx, pauseScript, queue, "resume")
	return wrapErr("resume", err)
}

// IsPaused reports whether queue is paused.
func (s *Store) IsPaused(ctx context.Context, queue string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.queueKey(queue)+"meta", "paused").Result()
	return ok, wrapErr("is paused", err)
}

// Drain removes waiting, paused and prioritized jobs, plus delayed ones when
// includeDelayed is set.
func (s *Store) Drain(ctx context.Context, queue string, includeDelayed bool) error {
	n, err := s.run(ctx, drainScript, queue, flag(includeDelayed))
	if err != nil {
		return wrapErr("drain", err)
	}
	s.logger.Debug("queue drained", "queue", queue, "removed", n)
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
func (s *Store) Clean(ctx context.Context, queue string, state core.JobState, grace time.Duration, limit int) ([]string, error) {
	if !cleanableStates[state] {
		return nil, core.NewValidationError("state", core.ErrInvalidState)
	}
	cutoff := s.now().Add(-grace).UnixMilli()
	res, err := s.run(ctx, cleanScript, queue, string(state), cutoff, limit)
	if err != nil {
		return nil, wrapErr("clean", err)
	}
	return toStrings(res), nil
}

// Remove deletes one job that is not active.
func (s *Store) Remove(ctx context.Context, queue, id string) error {
	res, err := s.run(ctx, removeScript, queue, id)
	if err != nil {
		return wrapErr("remove", err)
	}
	return codeErr(res)
}

// Obliterate deletes every key of queue.
func (s *Store) Obliterate(ctx context.Context, queue string) error {
	pattern := s.queueKey(queue) + "*"
	var cursor uint64
	var deleted int
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return wrapErr("obliterate", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return wrapErr("obliterate", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Debug("queue obliterated", "queue", queue, "keys", deleted)
	return nil
}

// GetJobCounts counts jobs per state; all states when none are given.
func (s *Store) GetJobCounts(ctx context.Context, queue string, states ...core.JobState) (core.JobCounts, error) {
	if len(states) == 0 {
		states = core.AllStates
	}
	pipe := s.client.Pipeline()
	cmds := make(map[core.JobState]*goredis.IntCmd, len(states))
	for _, st := range states {
		key := s.stateKey(queue, string(st))
		switch st {
		case core.StateWaiting, core.StatePaused, core.StateActive:
			cmds[st] = pipe.LLen(ctx, key)
		case core.StateDelayed, core.StatePrioritized, core.StateWaitingChildren,
			core.StateCompleted, core.StateFailed:
			cmds[st] = pipe.ZCard(ctx, key)
		default:
			return nil, core.NewValidationError("state", fmt.Errorf("%w: %q", core.ErrInvalidState, st))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapErr("get job counts", err)
	}
	counts := make(core.JobCounts, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}
