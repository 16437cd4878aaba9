package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)
}

func noJitter(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        8 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := noJitter(10)

	assert.Equal(t, time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 2*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 4*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 8*time.Millisecond, cfg.backoff(4))
	assert.Equal(t, 8*time.Millisecond, cfg.backoff(9), "capped at MaxBackoff")
}

func TestRetryConfig_JitterStaysInRange(t *testing.T) {
	cfg := DefaultRetryConfig()
	for i := 0; i < 100; i++ {
		d := cfg.jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, time.Second, noJitter(1).jittered(time.Second))
}

func TestRetryWithBackoff_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int

	err := retryWithBackoff(context.Background(), DefaultRetryConfig(), nil, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ReportsEachRetry(t *testing.T) {
	type retry struct {
		attempt int
		wait    time.Duration
	}
	var retries []retry
	var attempts int

	err := retryWithBackoff(context.Background(), noJitter(5), func(n int, wait time.Duration, err error) {
		assert.EqualError(t, err, "connection reset")
		retries = append(retries, retry{n, wait})
	}, func() error {
		attempts++
		if attempts < 4 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []retry{
		{1, time.Millisecond},
		{2, 2 * time.Millisecond},
		{3, 4 * time.Millisecond},
	}, retries)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	var attempts int
	expectedErr := core.Unavailable(errors.New("dial tcp: connection refused"))

	err := retryWithBackoff(context.Background(), noJitter(3), nil, func() error {
		attempts++
		return expectedErr
	})

	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32

	err := retryWithBackoff(ctx, cfg, func(int, time.Duration, error) { cancel() }, func() error {
		attempts.Add(1)
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryWithBackoff_StopsOnContextError(t *testing.T) {
	var attempts int

	err := retryWithBackoff(context.Background(), DefaultRetryConfig(), nil, func() error {
		attempts++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_DoesNotRetryLockMismatch(t *testing.T) {
	var attempts int

	err := retryWithBackoff(context.Background(), noJitter(5), nil, func() error {
		attempts++
		return fmt.Errorf("complete: %w", core.ErrLockMismatch)
	})

	assert.ErrorIs(t, err, core.ErrLockMismatch)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, false},
		{"context.DeadlineExceeded", context.DeadlineExceeded, false},
		{"generic error", errors.New("some error"), true},
		{"store unavailable", core.Unavailable(errors.New("dial tcp")), true},
		{"lock mismatch", core.ErrLockMismatch, false},
		{"wrapped lock mismatch", fmt.Errorf("extend: %w", core.ErrLockMismatch), false},
		{"not active", core.ErrJobNotActive, false},
		{"not found", core.ErrJobNotFound, false},
		{"validation", core.NewValidationError("token", core.ErrEmptyToken), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}

func TestStorageRetry_Option(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 200 * time.Millisecond,
	}

	workerCfg := WorkerConfig{}
	StorageRetry(cfg).ApplyWorker(&workerCfg)

	assert.Equal(t, 10, workerCfg.StorageRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, workerCfg.StorageRetry.InitialBackoff)
}

func TestRetryAttempts_Option(t *testing.T) {
	workerCfg := WorkerConfig{}
	RetryAttempts(7).ApplyWorker(&workerCfg)

	assert.Equal(t, 7, workerCfg.StorageRetry.MaxAttempts)
	// Should have default values for other fields
	assert.Equal(t, 100*time.Millisecond, workerCfg.StorageRetry.InitialBackoff)
}

func TestDisableRetry_Option(t *testing.T) {
	workerCfg := WorkerConfig{}
	DisableRetry().ApplyWorker(&workerCfg)

	assert.Equal(t, 1, workerCfg.StorageRetry.MaxAttempts)
}
