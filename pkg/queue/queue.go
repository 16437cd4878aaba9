package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/schedule"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// Queue is the producer side of one named queue.
type Queue struct {
	name     string
	storage  core.Storage
	codec    core.Codec
	defaults core.JobOptions
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	eventSubs []chan core.Event
}

// BulkJob is one entry of an AddBulk call. An empty Name becomes
// core.DefaultJobName.
type BulkJob struct {
	Name string
	Data any
	Opts core.JobOptions
}

// New creates a Queue named name on top of s.
func New(s core.Storage, name string, opts ...ConfigOption) (*Queue, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return nil, core.NewValidationError("queue", err)
	}
	cfg := &Config{Codec: core.JSONCodec{}, Logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Queue{
		name:     name,
		storage:  s,
		codec:    cfg.Codec,
		defaults: cfg.DefaultJobOptions,
		logger:   cfg.Logger.With("queue", name),
		now:      time.Now,
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage { return q.storage }

// Codec returns the payload codec.
func (q *Queue) Codec() core.Codec { return q.codec }

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger { return q.logger }

// DefaultJobOptions returns the options merged under every job.
func (q *Queue) DefaultJobOptions() core.JobOptions { return q.defaults }

// NewJob builds an unsaved job record: defaults merged with opts, data
// encoded with the queue codec and repeat scheduling resolved. Flow
// producers use it to build tree nodes.
func (q *Queue) NewJob(name string, data any, opts core.JobOptions) (*core.Job, error) {
	if name == "" {
		name = core.DefaultJobName
	}
	payload, err := q.codec.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("jobs: failed to encode data: %w", err)
	}
	job := &core.Job{
		Queue: q.name,
		Name:  name,
		Data:  payload,
		Opts:  core.MergeOptions(q.defaults, opts),
	}
	if job.Opts.Repeat != nil {
		if err := q.scheduleFirstIteration(job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (q *Queue) scheduleFirstIteration(job *core.Job) error {
	r := *job.Opts.Repeat
	sched, err := schedule.FromRepeat(&r)
	if err != nil {
		return err
	}
	now := q.now()
	next := sched.Next(now)
	r.Key = schedule.RepeatKey(job.Name, &r)
	r.Count = 1
	job.Opts.Repeat = &r
	job.Opts.Delay = next.Sub(now)
	if job.Opts.JobID == "" {
		job.Opts.JobID = schedule.IterationID(r.Key, next)
	}
	return nil
}

// Add enqueues one job.
func (q *Queue) Add(ctx context.Context, name string, data any, opts ...Option) (*core.Job, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	job, err := q.NewJob(name, data, options.JobOptions)
	if err != nil {
		return nil, err
	}
	if err := q.storage.AddJobs(ctx, []*core.Job{job}); err != nil {
		return nil, wrapAdd(err)
	}
	return job, nil
}

// AddBulk enqueues several jobs all-or-nothing.
func (q *Queue) AddBulk(ctx context.Context, entries []BulkJob) ([]*core.Job, error) {
	jobs := make([]*core.Job, 0, len(entries))
	for _, e := range entries {
		job, err := q.NewJob(e.Name, e.Data, e.Opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := q.storage.AddJobs(ctx, jobs); err != nil {
		return nil, wrapAdd(err)
	}
	return jobs, nil
}

func wrapAdd(err error) error {
	if errors.Is(err, core.ErrValidation) {
		return err
	}
	return fmt.Errorf("jobs: failed to enqueue: %w", err)
}

// Pause stops workers from leasing jobs of this queue.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.storage.Pause(ctx, q.name); err != nil {
		return err
	}
	q.logger.Info("queue paused")
	return nil
}

// Resume lets workers lease jobs again.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.storage.Resume(ctx, q.name); err != nil {
		return err
	}
	q.logger.Info("queue resumed")
	return nil
}

// IsPaused reports whether the queue is paused.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.storage.IsPaused(ctx, q.name)
}

// Drain removes every job waiting to run, and delayed ones when
// includeDelayed is set. Active jobs finish normally.
func (q *Queue) Drain(ctx context.Context, includeDelayed bool) error {
	return q.storage.Drain(ctx, q.name, includeDelayed)
}

// Clean removes up to limit jobs in state finished or added before grace.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, limit int, state core.JobState) ([]string, error) {
	ids, err := q.storage.Clean(ctx, q.name, state, grace, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		q.logger.Debug("jobs cleaned", "state", state, "count", len(ids))
	}
	return ids, nil
}

// Remove deletes one job that is not active.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.storage.Remove(ctx, q.name, id)
}

// Obliterate deletes the queue and every job in it.
func (q *Queue) Obliterate(ctx context.Context) error {
	return q.storage.Obliterate(ctx, q.name)
}

// GetJob returns the job with id, or nil.
func (q *Queue) GetJob(ctx context.Context, id string) (*core.Job, error) {
	return q.storage.GetJob(ctx, q.name, id)
}

// GetJobState returns the state of the job with id.
func (q *Queue) GetJobState(ctx context.Context, id string) (core.JobState, error) {
	return q.storage.GetJobState(ctx, q.name, id)
}

// GetJobCounts counts jobs per state; every state when none are given.
func (q *Queue) GetJobCounts(ctx context.Context, states ...core.JobState) (core.JobCounts, error) {
	return q.storage.GetJobCounts(ctx, q.name, states...)
}

// GetJobCountByTypes sums the jobs in the given states.
func (q *Queue) GetJobCountByTypes(ctx context.Context, states ...core.JobState) (int64, error) {
	counts, err := q.GetJobCounts(ctx, states...)
	if err != nil {
		return 0, err
	}
	return counts.Total(), nil
}

// Count returns the number of jobs that have not run yet, including delayed
// jobs and parents waiting for children.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	return q.GetJobCountByTypes(ctx,
		core.StateWaiting,
		core.StatePaused,
		core.StateDelayed,
		core.StatePrioritized,
		core.StateWaitingChildren,
	)
}

// Decode unmarshals a job payload or return value with the queue codec.
func (q *Queue) Decode(data []byte, v any) error {
	return q.codec.Unmarshal(data, v)
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a failed attempt is scheduled for
// another try.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}

// Listen subscribes to the store's event stream for this queue and
// forwards every event to Events() subscribers until ctx is done. It
// returns once the subscription is established.
func (q *Queue) Listen(ctx context.Context) error {
	src, ok := q.storage.(core.EventSource)
	if !ok {
		return core.ErrNoEventSource
	}
	events, err := src.Subscribe(ctx, q.name)
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			q.Emit(ev)
		}
	}()
	return nil
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between queue and worker packages.
var WorkerFactory func(q *Queue, opts ...any) core.Starter

// NewWorker creates a new worker for this queue.
// Options should be worker.WorkerOption values.
func (q *Queue) NewWorker(opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("jobs: WorkerFactory not initialized - import github.com/jdziat/simple-flow-queue to initialize")
	}
	return WorkerFactory(q, opts...)
}
