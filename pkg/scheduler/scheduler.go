package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("jobs: scheduler already running")

const pruneInterval = time.Hour

// Scheduler promotes due delayed jobs and reclaims stalled ones. Both
// operations are idempotent in the store, so any number of schedulers may
// maintain the same queues.
type Scheduler struct {
	storage core.Storage
	config  Config
	logger  *slog.Logger
	now     func() time.Time
	wake    chan struct{}

	nextStallCheck time.Time
	nextPrune      time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler for the configured queues.
func New(s core.Storage, opts ...Option) *Scheduler {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&config)
	}
	return &Scheduler{
		storage: s,
		config:  config,
		logger:  config.Logger,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.config }

// Notify wakes the scheduler for an early pass.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run maintains the queues until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.listen(ctx)
	return s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) error {
	s.logger.Info("scheduler started", "queues", s.config.Queues)
	defer s.logger.Info("scheduler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		timer.Reset(s.tick(ctx))
	}
}

// Start runs the scheduler in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.listen(runCtx)
	go func() {
		defer close(done)
		_ = s.loop(runCtx)
	}()
	return nil
}

// Stop halts a scheduler started with Start and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// listen wakes the scheduler whenever a job becomes delayed, if the store
// publishes events.
func (s *Scheduler) listen(ctx context.Context) {
	src, ok := s.storage.(core.EventSource)
	if !ok {
		return
	}
	for _, q := range s.config.Queues {
		events, err := src.Subscribe(ctx, q)
		if err != nil {
			s.logger.Warn("scheduler cannot subscribe to events, relying on polling", "queue", q, "error", err)
			continue
		}
		go func() {
			for ev := range events {
				if ev.Kind() == core.EventDelayed || ev.Kind() == core.EventRetrying {
					s.Notify()
				}
			}
		}()
	}
}

// tick runs one pass over all queues and returns how long to sleep.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	now := s.now()
	wait := s.jitteredMax()

	for _, q := range s.config.Queues {
		n, next, err := s.storage.PromoteDelayed(ctx, q, now, s.config.PromoteLimit)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("failed to promote delayed jobs", "queue", q, "error", err)
			}
			continue
		}
		if n > 0 {
			s.logger.Debug("promoted delayed jobs", "queue", q, "count", n)
		}
		if n >= s.config.PromoteLimit {
			wait = 0
		}
		if !next.IsZero() {
			wait = min(wait, next.Sub(now))
		}
	}

	if !now.Before(s.nextStallCheck) {
		s.checkStalled(ctx)
		s.nextStallCheck = now.Add(s.config.StalledInterval)
	}
	wait = min(wait, s.nextStallCheck.Sub(now))

	if pruner, ok := s.storage.(core.EventPruner); ok && !now.Before(s.nextPrune) {
		n, err := pruner.PruneEvents(ctx, now.Add(-s.config.EventRetention))
		if err != nil {
			s.logger.Error("failed to prune events", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned events", "count", n)
		}
		s.nextPrune = now.Add(pruneInterval)
	}

	return max(wait, s.config.MinDelay)
}

func (s *Scheduler) checkStalled(ctx context.Context) {
	for _, q := range s.config.Queues {
		res, err := s.storage.MoveStalledToWait(ctx, q, s.config.MaxStalledCount)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("failed to check stalled jobs", "queue", q, "error", err)
			}
			continue
		}
		if len(res.Recovered) > 0 {
			s.logger.Warn("recovered stalled jobs", "queue", q, "job_ids", res.Recovered)
		}
		if len(res.Failed) > 0 {
			s.logger.Warn("failed jobs that stalled too often", "queue", q, "job_ids", res.Failed)
		}
	}
}

func (s *Scheduler) jitteredMax() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(s.config.MaxDelay)/10 + 1))
	return s.config.MaxDelay - jitter
}
