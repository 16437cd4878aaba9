package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// RetryConfig controls how store calls made by the worker are retried.
// Transition rejections are never retried; see IsRetryableError.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default 5.
	MaxAttempts int
	// InitialBackoff is the pause after the first failure. Default 100ms.
	InitialBackoff time.Duration
	// MaxBackoff caps every pause. Default 5s.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the pause after each failure. Default 2.
	BackoffMultiplier float64
	// JitterFraction randomizes each pause by up to this fraction. Default 0.1.
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// RetryAttempts sets the number of attempts for store calls, keeping the
// default backoff.
func RetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = max(n, 1)
		c.StorageRetry = cfg
	})
}

// DisableRetry makes every store call a single attempt.
func DisableRetry() WorkerOption {
	return RetryAttempts(1)
}

// backoff returns the pause before attempt n+1, after n failed attempts,
// without jitter.
func (c RetryConfig) backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func (c RetryConfig) jittered(d time.Duration) time.Duration {
	if c.JitterFraction <= 0 {
		return d
	}
	j := d + time.Duration(float64(d)*c.JitterFraction*(rand.Float64()*2-1))
	if j < 0 {
		return d
	}
	return j
}

// retryFunc is called before each pause with the failed attempt number.
type retryFunc func(attempt int, wait time.Duration, err error)

// retryWithBackoff runs op until it succeeds, fails with an error that
// IsRetryableError rejects, or runs out of attempts.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, onRetry retryFunc, op func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	for n := 1; ; n++ {
		err := op()
		if err == nil || !IsRetryableError(err) || n >= attempts {
			return err
		}
		wait := cfg.jittered(cfg.backoff(n))
		if onRetry != nil {
			onRetry(n, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// retryStore wraps a store call of the worker with its retry policy and
// logs each retry.
func (w *Worker) retryStore(ctx context.Context, op string, fn func() error) error {
	return retryWithBackoff(ctx, w.config.StorageRetry, func(attempt int, wait time.Duration, err error) {
		w.logger.Debug("store call failed, retrying",
			"op", op,
			"attempt", attempt,
			"retry_after", wait,
			"error", err,
		)
	}, fn)
}

// IsRetryableError determines if a store error is worth retrying.
// Transition rejections, such as a lost lease, are never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, core.ErrLockMismatch),
		errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrJobNotActive),
		errors.Is(err, core.ErrDuplicateJob),
		errors.Is(err, core.ErrValidation):
		return false
	}
	return true
}
