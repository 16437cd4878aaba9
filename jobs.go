// Package jobs provides a distributed job queue with parent/child flows.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and queue
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := jobs.NewRedisStorage(client)
//	q, _ := jobs.New(store, "emails")
//
//	// Enqueue a job
//	q.Add(ctx, "send", Email{To: "user@example.com"}, jobs.Attempts(3))
//
//	// Process jobs
//	w := jobs.NewWorker(q, jobs.Concurrency(4))
//	w.Register("send", func(ctx context.Context, e Email) error {
//	    return sendEmail(e)
//	})
//	w.Start(ctx)
package jobs

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/flow"
	"github.com/jdziat/simple-flow-queue/pkg/jobctx"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/schedule"
	"github.com/jdziat/simple-flow-queue/pkg/scheduler"
	"github.com/jdziat/simple-flow-queue/pkg/security"
	"github.com/jdziat/simple-flow-queue/pkg/storage"
	redisstore "github.com/jdziat/simple-flow-queue/pkg/storage/redis"
	"github.com/jdziat/simple-flow-queue/pkg/worker"
)

func init() {
	// Register the worker factory to enable queue.NewWorker()
	queue.WorkerFactory = func(q *queue.Queue, opts ...any) core.Starter {
		workerOpts := make([]worker.WorkerOption, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.WorkerOption); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.NewWorker(q, workerOpts...)
	}
}

type (
	// Job is a unit of work stored in a queue.
	Job = core.Job

	// JobKey identifies a job across queues.
	JobKey = core.JobKey

	// JobState is the lifecycle state of a job.
	JobState = core.JobState

	// JobCounts maps states to the number of jobs in them.
	JobCounts = core.JobCounts

	// JobOptions controls how a job is scheduled and retried.
	JobOptions = core.JobOptions

	// OptionField marks a JobOptions field whose zero value should override
	// a queue default.
	OptionField = core.OptionField

	// BackoffConfig configures retry delays.
	BackoffConfig = core.Backoff

	// BackoffType selects fixed or exponential retry delays.
	BackoffType = core.BackoffType

	// RepeatConfig makes a job repeatable.
	RepeatConfig = core.Repeat

	// Storage is the persistence layer shared by producers, workers and
	// the scheduler.
	Storage = core.Storage

	// EventSource is implemented by stores that publish queue events.
	EventSource = core.EventSource

	// Inspector is implemented by stores that can list queues and search jobs.
	Inspector = core.Inspector

	// Codec encodes job data and return values.
	Codec = core.Codec

	// Event is the interface for all queue events.
	Event = core.Event

	// EventType names an event.
	EventType = core.EventType

	// JobEvent reports a change to a single job.
	JobEvent = core.JobEvent

	// QueueEvent reports a queue-wide change such as pause or drain.
	QueueEvent = core.QueueEvent

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// ValidationError reports which field of a job or option was rejected.
	ValidationError = core.ValidationError

	// Queue adds and manages the jobs of one named queue.
	Queue = queue.Queue

	// Option modifies the options of a single Add.
	Option = queue.Option

	// ConfigOption configures a Queue.
	ConfigOption = queue.ConfigOption

	// BulkJob is one entry of Queue.AddBulk.
	BulkJob = queue.BulkJob

	// FlowProducer adds trees of parent and child jobs atomically.
	FlowProducer = flow.Producer

	// FlowJob describes a node of a flow to add.
	FlowJob = flow.FlowJob

	// FlowNode is a node of an added or fetched flow.
	FlowNode = flow.Node

	// Worker processes jobs from a queue.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// Scheduler promotes delayed jobs and reclaims stalled ones.
	Scheduler = scheduler.Scheduler

	// SchedulerOption configures a Scheduler.
	SchedulerOption = scheduler.Option

	// Schedule computes the next run of a repeatable job.
	Schedule = schedule.Schedule

	// GormStorage implements Storage on a SQL database.
	GormStorage = storage.GormStorage

	// RedisStorage implements Storage on Redis.
	RedisStorage = redisstore.Store
)

// Job states
const (
	StateWaiting         = core.StateWaiting
	StateDelayed         = core.StateDelayed
	StatePrioritized     = core.StatePrioritized
	StateActive          = core.StateActive
	StateCompleted       = core.StateCompleted
	StateFailed          = core.StateFailed
	StatePaused          = core.StatePaused
	StateWaitingChildren = core.StateWaitingChildren
	StateUnknown         = core.StateUnknown
)

// Event types
const (
	EventAdded           = core.EventAdded
	EventWaiting         = core.EventWaiting
	EventDelayed         = core.EventDelayed
	EventPrioritized     = core.EventPrioritized
	EventWaitingChildren = core.EventWaitingChildren
	EventActive          = core.EventActive
	EventProgress        = core.EventProgress
	EventCompleted       = core.EventCompleted
	EventFailed          = core.EventFailed
	EventRetrying        = core.EventRetrying
	EventStalled         = core.EventStalled
	EventRemoved         = core.EventRemoved
	EventPaused          = core.EventPaused
	EventResumed         = core.EventResumed
	EventDrained         = core.EventDrained
	EventCleaned         = core.EventCleaned
)

// Backoff types
const (
	BackoffFixed       = core.BackoffFixed
	BackoffExponential = core.BackoffExponential
)

// Option fields for JobOptions.Mark
const (
	FieldDelay            = core.FieldDelay
	FieldPriority         = core.FieldPriority
	FieldAttempts         = core.FieldAttempts
	FieldRemoveOnComplete = core.FieldRemoveOnComplete
	FieldRemoveOnFail     = core.FieldRemoveOnFail
)

// Security limits
const (
	MaxJobNameLength      = security.MaxJobNameLength
	MaxJobDataSize        = security.MaxJobDataSize
	MaxAttempts           = security.MaxAttempts
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxQueueNameLength    = security.MaxQueueNameLength
	MaxJobIDLength        = security.MaxJobIDLength
	MaxPriority           = security.MaxPriority
	MaxFlowDepth          = security.MaxFlowDepth
)

// Errors
var (
	ErrLockMismatch     = core.ErrLockMismatch
	ErrJobNotFound      = core.ErrJobNotFound
	ErrJobNotActive     = core.ErrJobNotActive
	ErrJobActive        = core.ErrJobActive
	ErrDuplicateJob     = core.ErrDuplicateJob
	ErrStoreUnavailable = core.ErrStoreUnavailable
	ErrNoEventSource    = core.ErrNoEventSource
	ErrValidation       = core.ErrValidation
	ErrHandlerNotFound  = core.ErrHandlerNotFound
)

// New creates a queue named name on top of s.
func New(s Storage, name string, opts ...ConfigOption) (*Queue, error) {
	return queue.New(s, name, opts...)
}

// NewFlowProducer creates a producer for adding flows.
func NewFlowProducer(s Storage, opts ...flow.Option) *FlowProducer {
	return flow.NewProducer(s, opts...)
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, opts...)
}

// NewScheduler creates a scheduler for the queues named in opts.
func NewScheduler(s Storage, opts ...SchedulerOption) *Scheduler {
	return scheduler.New(s, opts...)
}

// NewGormStorage creates a SQL-backed storage. Call Migrate before use.
func NewGormStorage(db *gorm.DB, opts ...storage.GormOption) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(client goredis.UniversalClient, opts ...redisstore.Option) *RedisStorage {
	return redisstore.New(client, opts...)
}

// Job options

// JobID sets a custom job id.
func JobID(id string) Option { return queue.JobID(id) }

// Priority sets the job priority. Lower values run first; 0 means none.
func Priority(p int) Option { return queue.Priority(p) }

// Attempts sets the maximum number of attempts.
func Attempts(n int) Option { return queue.Attempts(n) }

// Delay postpones the job by d.
func Delay(d time.Duration) Option { return queue.Delay(d) }

// At schedules the job to become ready at t.
func At(t time.Time) Option { return queue.At(t) }

// Backoff sets the retry delay strategy.
func Backoff(typ BackoffType, delay time.Duration) Option { return queue.Backoff(typ, delay) }

// RemoveOnComplete deletes the job once it completes.
func RemoveOnComplete(remove bool) Option { return queue.RemoveOnComplete(remove) }

// RemoveOnFail deletes the job once it fails for good.
func RemoveOnFail(remove bool) Option { return queue.RemoveOnFail(remove) }

// Repeat makes the job repeatable.
func Repeat(r RepeatConfig) Option { return queue.Repeat(r) }

// WithOptions merges a full JobOptions value.
func WithOptions(opts JobOptions) Option { return queue.JobOptions(opts) }

// Queue options

// WithCodec sets the codec for job data.
func WithCodec(c Codec) ConfigOption { return queue.WithCodec(c) }

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) ConfigOption { return queue.WithLogger(l) }

// WithDefaultJobOptions sets options merged under every added job.
func WithDefaultJobOptions(opts JobOptions) ConfigOption { return queue.WithDefaultJobOptions(opts) }

// Worker options

// Concurrency sets how many jobs a worker runs at once.
func Concurrency(n int) WorkerOption { return worker.Concurrency(n) }

// LockDuration sets the job lease length.
func LockDuration(d time.Duration) WorkerOption { return worker.LockDuration(d) }

// LockRenewTime sets how often held leases are extended.
func LockRenewTime(d time.Duration) WorkerOption { return worker.LockRenewTime(d) }

// DrainDelay sets how long an idle worker blocks waiting for a job.
func DrainDelay(d time.Duration) WorkerOption { return worker.DrainDelay(d) }

// Limiter caps the worker at max jobs per duration.
func Limiter(max int, per time.Duration) WorkerOption { return worker.Limiter(max, per) }

// WithScheduler runs an embedded scheduler inside the worker.
func WithScheduler(enabled bool, opts ...SchedulerOption) WorkerOption {
	return worker.WithScheduler(enabled, opts...)
}

// SchedulerQueues sets the queues a scheduler maintains.
func SchedulerQueues(names ...string) SchedulerOption { return scheduler.Queues(names...) }

// Schedules

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule { return schedule.Every(d) }

// Daily creates a schedule that runs at a fixed time each day.
func Daily(hour, minute int) Schedule { return schedule.Daily(hour, minute) }

// Cron creates a schedule from a five-field cron expression.
func Cron(expr string) Schedule { return schedule.Cron(expr) }

// Errors

// NoRetry marks an error as permanent.
func NoRetry(err error) error { return core.NoRetry(err) }

// RetryAfter asks for the next attempt after d.
func RetryAfter(d time.Duration, err error) error { return core.RetryAfter(d, err) }

// Job context

// JobFromContext returns the job being processed.
func JobFromContext(ctx context.Context) *Job { return jobctx.JobFromContext(ctx) }

// JobIDFromContext returns the id of the job being processed.
func JobIDFromContext(ctx context.Context) string { return jobctx.JobIDFromContext(ctx) }

// UpdateProgress reports progress for the job being processed.
func UpdateProgress(ctx context.Context, progress any) error {
	return jobctx.UpdateProgress(ctx, progress)
}

// ChildrenValues decodes the return values of the current job's children.
func ChildrenValues[T any](ctx context.Context) (map[JobKey]T, error) {
	return jobctx.ChildrenValues[T](ctx)
}
