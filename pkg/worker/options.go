// Package worker provides the Worker job processor for the jobs package.
package worker

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-flow-queue/pkg/scheduler"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// Default worker settings.
const (
	DefaultConcurrency  = 1
	DefaultLockDuration = 30 * time.Second
	DefaultDrainDelay   = 5 * time.Second
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// LimiterConfig caps how many jobs a worker starts per period.
type LimiterConfig struct {
	Max int
	Per time.Duration
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency int
	// LockDuration is the lease granted on every fetch and renewal.
	LockDuration time.Duration
	// LockRenewTime is the renewal period. Zero means half of LockDuration.
	LockRenewTime time.Duration
	// DrainDelay is how long an idle slot blocks waiting for a job.
	DrainDelay time.Duration
	Limiter    *LimiterConfig
	WorkerID   string

	// StorageRetry controls retries of transient store failures.
	StorageRetry RetryConfig

	EnableScheduler  bool
	SchedulerOptions []scheduler.Option

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Concurrency sets how many jobs the worker runs at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// LockDuration sets the lease length. Values are clamped to [1s, 1h].
func LockDuration(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.LockDuration = security.ClampLease(d)
	})
}

// LockRenewTime sets how often the lease of a running job is renewed.
func LockRenewTime(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.LockRenewTime = d
	})
}

// DrainDelay sets how long an idle slot waits for new work before polling
// again.
func DrainDelay(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.DrainDelay = d
		}
	})
}

// Limiter allows at most max jobs to start per period.
func Limiter(max int, per time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if max > 0 && per > 0 {
			c.Limiter = &LimiterConfig{Max: max, Per: per}
		}
	})
}

// WorkerID sets the identifier attached to log lines and job contexts.
// Lock tokens are generated per lease and do not include it.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// StorageRetry overrides the retry policy for store calls.
func StorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = cfg
	})
}

// WithScheduler runs a scheduler for the worker's queue alongside the
// worker slots.
func WithScheduler(enabled bool, opts ...scheduler.Option) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
		c.SchedulerOptions = opts
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}

// WithTracer sets the tracer used for job spans. Defaults to the global
// otel provider.
func WithTracer(t trace.Tracer) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Tracer = t
	})
}
