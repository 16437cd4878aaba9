package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	intctx "github.com/jdziat/simple-flow-queue/pkg/internal/context"
	"github.com/jdziat/simple-flow-queue/pkg/internal/handler"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/schedule"
	"github.com/jdziat/simple-flow-queue/pkg/scheduler"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

const tracerName = "github.com/jdziat/simple-flow-queue/worker"

// ErrWorkerRunning is returned by Start on a worker that is already running.
var ErrWorkerRunning = errors.New("jobs: worker already running")

// Worker leases jobs from one queue and runs the registered handlers.
type Worker struct {
	queue   *queue.Queue
	config  WorkerConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[string]*handler.Handler
	fallback *handler.Handler

	running atomic.Bool
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:  DefaultConcurrency,
		LockDuration: DefaultLockDuration,
		DrainDelay:   DefaultDrainDelay,
		WorkerID:     uuid.New().String(),
		StorageRetry: DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.LockRenewTime == 0 {
		config.LockRenewTime = config.LockDuration / 2
	}

	logger := config.Logger
	if logger == nil {
		logger = q.Logger()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	w := &Worker{
		queue:    q,
		config:   config,
		logger:   logger.With("worker_id", config.WorkerID),
		tracer:   tracer,
		now:      time.Now,
		handlers: make(map[string]*handler.Handler),
	}
	if l := config.Limiter; l != nil {
		w.limiter = rate.NewLimiter(rate.Every(l.Per/time.Duration(l.Max)), l.Max)
	}
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.config.WorkerID }

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Register binds fn to jobs named name. See the handler package for the
// accepted signatures.
func (w *Worker) Register(name string, fn any) error {
	if err := security.ValidateJobName(name); err != nil {
		return core.NewValidationError("name", err)
	}
	h, err := handler.NewHandler(fn)
	if err != nil {
		return fmt.Errorf("jobs: register %q: %w", name, err)
	}
	w.mu.Lock()
	w.handlers[name] = h
	w.mu.Unlock()
	return nil
}

// RegisterDefault binds fn to every job name without its own handler.
func (w *Worker) RegisterDefault(fn any) error {
	h, err := handler.NewHandler(fn)
	if err != nil {
		return fmt.Errorf("jobs: register default: %w", err)
	}
	w.mu.Lock()
	w.fallback = h
	w.mu.Unlock()
	return nil
}

func (w *Worker) lookup(name string) *handler.Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if h, ok := w.handlers[name]; ok {
		return h
	}
	return w.fallback
}

// Start begins processing jobs. Blocks until ctx is cancelled and every
// in-flight job has been reported.
func (w *Worker) Start(ctx context.Context) error {
	if w.config.LockRenewTime >= w.config.LockDuration {
		return core.NewValidationError("lockRenewTime", core.ErrInvalidLockSetting)
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	w.logger.Info("worker started",
		"queue", w.queue.Name(),
		"concurrency", w.config.Concurrency,
		"lock_duration", w.config.LockDuration)

	g, gctx := errgroup.WithContext(ctx)

	if w.config.EnableScheduler {
		opts := append([]scheduler.Option{
			scheduler.Queues(w.queue.Name()),
			scheduler.WithLogger(w.logger),
		}, w.config.SchedulerOptions...)
		s := scheduler.New(w.queue.Storage(), opts...)
		g.Go(func() error {
			_ = s.Run(gctx)
			return nil
		})
	}

	for i := 0; i < w.config.Concurrency; i++ {
		g.Go(func() error {
			w.processLoop(gctx)
			return nil
		})
	}

	_ = g.Wait()
	w.logger.Info("worker stopped", "queue", w.queue.Name())
	return ctx.Err()
}

func (w *Worker) processLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		token := uuid.New().String()
		job, err := w.fetch(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to fetch job after retries", "queue", w.queue.Name(), "error", err)
			w.sleep(ctx, w.config.StorageRetry.MaxBackoff)
			continue
		}
		if job == nil {
			if err := w.queue.Storage().WaitForJob(ctx, w.queue.Name(), w.config.DrainDelay); err != nil && ctx.Err() == nil {
				w.logger.Warn("wait for job failed", "queue", w.queue.Name(), "error", err)
				w.sleep(ctx, w.config.StorageRetry.InitialBackoff)
			}
			continue
		}

		w.processJob(ctx, job, token)
	}
}

func (w *Worker) fetch(ctx context.Context, token string) (*core.Job, error) {
	var job *core.Job
	err := w.retryStore(ctx, "move to active", func() error {
		var fetchErr error
		job, fetchErr = w.queue.Storage().MoveToActive(ctx, w.queue.Name(), token, w.config.LockDuration)
		return fetchErr
	})
	return job, err
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) processJob(ctx context.Context, job *core.Job, token string) {
	log := w.logger.With("queue", job.Queue, "job_id", job.ID, "job_name", job.Name)

	// The outcome must be recorded even while the worker shuts down.
	reportCtx := context.WithoutCancel(ctx)

	if job.Opts.Repeat != nil {
		w.scheduleNextIteration(reportCtx, job, log)
	}

	h := w.lookup(job.Name)
	if h == nil {
		log.Error("no handler for job")
		w.fail(reportCtx, job, token, core.NoRetry(fmt.Errorf("%w: %s", core.ErrHandlerNotFound, job.Name)), log)
		return
	}

	w.queue.CallStartHooks(ctx, job)

	jobCtx, abort := context.WithCancelCause(reportCtx)
	defer abort(nil)

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.renewLock(jobCtx, job, token, abort, log)
	}()

	result, err := w.execute(jobCtx, job, token, h)

	abort(nil)
	<-renewDone

	if errors.Is(context.Cause(jobCtx), core.ErrLockMismatch) {
		log.Warn("lease lost while running, abandoning job")
		return
	}

	if err != nil {
		w.fail(reportCtx, job, token, err, log)
		return
	}

	completeErr := w.retryStore(reportCtx, "move to completed", func() error {
		return w.queue.Storage().MoveToCompleted(reportCtx, job.Queue, job.ID, token, result)
	})
	switch {
	case errors.Is(completeErr, core.ErrLockMismatch):
		log.Warn("lease lost before completion, abandoning job")
		return
	case completeErr != nil:
		log.Error("failed to complete job after retries", "error", completeErr)
		return
	}
	job.ReturnValue = result
	job.State = core.StateCompleted
	log.Debug("job completed")
	w.queue.CallCompleteHooks(ctx, job)
}

// renewLock extends the lease every LockRenewTime until ctx is done. A lost
// lease aborts the job.
func (w *Worker) renewLock(ctx context.Context, job *core.Job, token string, abort context.CancelCauseFunc, log *slog.Logger) {
	ticker := time.NewTicker(w.config.LockRenewTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.retryStore(ctx, "extend lock", func() error {
				return w.queue.Storage().ExtendLock(ctx, job.Queue, job.ID, token, w.config.LockDuration)
			})
			switch {
			case err == nil:
				log.Debug("lock extended")
			case errors.Is(err, core.ErrLockMismatch), errors.Is(err, core.ErrJobNotActive), errors.Is(err, core.ErrJobNotFound):
				abort(core.ErrLockMismatch)
				return
			case ctx.Err() != nil:
				return
			default:
				log.Warn("lock renewal failed after retries", "error", err)
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, job *core.Job, token string, h *handler.Handler) (result []byte, err error) {
	ctx, span := w.tracer.Start(ctx, "flowq.job.process",
		trace.WithAttributes(
			attribute.String("flowq.job.id", job.ID),
			attribute.String("flowq.job.name", job.Name),
			attribute.String("flowq.queue", job.Queue),
			attribute.Int("flowq.attempts_made", job.AttemptsMade),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	jc := &intctx.JobContext{
		Job:      job,
		Storage:  w.queue.Storage(),
		Codec:    w.queue.Codec(),
		Logger:   w.logger,
		WorkerID: w.config.WorkerID,
		Token:    token,
	}
	return h.Execute(intctx.WithJobContext(ctx, jc), w.queue.Codec(), job.Data)
}

// fail reports a handler error. NoRetry and RetryAfter wrappers steer the
// store's retry decision.
func (w *Worker) fail(ctx context.Context, job *core.Job, token string, cause error, log *slog.Logger) {
	var opts core.FailOptions
	var noRetry *core.NoRetryError
	if errors.As(cause, &noRetry) {
		opts.NoRetry = true
	}
	var retryAfter *core.RetryAfterError
	if errors.As(cause, &retryAfter) {
		opts.RetryDelay = retryAfter.Delay
	}
	reason := security.SanitizeErrorMessage(cause.Error())

	var state core.JobState
	err := w.retryStore(ctx, "move to failed", func() error {
		var failErr error
		state, failErr = w.queue.Storage().MoveToFailed(ctx, job.Queue, job.ID, token, reason, opts)
		return failErr
	})
	switch {
	case errors.Is(err, core.ErrLockMismatch):
		log.Warn("lease lost before failure report, abandoning job")
		return
	case err != nil:
		log.Error("failed to mark job as failed after retries", "error", err)
		return
	}

	job.AttemptsMade++
	job.FailedReason = reason
	job.State = state
	if state == core.StateFailed {
		log.Warn("job failed", "error", cause, "attempts_made", job.AttemptsMade)
		w.queue.CallFailHooks(ctx, job, cause)
		return
	}
	log.Info("job will be retried", "error", cause, "attempts_made", job.AttemptsMade, "state", state)
	w.queue.CallRetryHooks(ctx, job, job.AttemptsMade, cause)
}

// scheduleNextIteration adds the next run of a repeatable job. The id is
// derived from the repeat key and run time, so workers racing on the same
// iteration insert it once.
func (w *Worker) scheduleNextIteration(ctx context.Context, job *core.Job, log *slog.Logger) {
	r := *job.Opts.Repeat
	if r.Limit > 0 && r.Count >= r.Limit {
		return
	}
	sched, err := schedule.FromRepeat(&r)
	if err != nil {
		log.Error("invalid repeat options", "error", err)
		return
	}
	if r.Key == "" {
		r.Key = schedule.RepeatKey(job.Name, &r)
	}

	now := w.now()
	next := sched.Next(job.Timestamp.Add(job.Opts.Delay))
	if next.Before(now) {
		next = sched.Next(now)
	}

	r.Count++
	opts := job.Opts
	opts.Repeat = &r
	opts.Delay = next.Sub(now)
	opts.JobID = schedule.IterationID(r.Key, next)

	nextJob := &core.Job{
		Queue: job.Queue,
		Name:  job.Name,
		Data:  job.Data,
		Opts:  opts,
	}
	if err := w.queue.Storage().AddJobs(ctx, []*core.Job{nextJob}); err != nil {
		log.Error("failed to schedule next iteration", "error", err)
		return
	}
	log.Debug("next iteration scheduled", "next_job_id", nextJob.ID, "run_at", next)
}
