// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/flow"
	intctx "github.com/jdziat/simple-flow-queue/pkg/internal/context"
)

// ErrNotInJob is returned by helpers that need a running job.
var ErrNotInJob = errors.New("jobs: not running inside a job handler")

// JobFromContext returns the current Job from context, or nil if not in a job handler.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// Logger returns the worker's logger annotated with the running job, or
// slog.Default outside a handler.
func Logger(ctx context.Context) *slog.Logger {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return slog.Default()
	}
	l := jc.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("queue", jc.Job.Queue, "job_id", jc.Job.ID)
}

// UpdateProgress stores progress on the running job and emits a progress
// event. The value is encoded with the queue's codec.
func UpdateProgress(ctx context.Context, progress any) error {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return ErrNotInJob
	}
	raw, err := jc.Codec.Marshal(progress)
	if err != nil {
		return fmt.Errorf("jobs: encode progress: %w", err)
	}
	if err := jc.Storage.UpdateProgress(ctx, jc.Job.Queue, jc.Job.ID, jc.Token, raw); err != nil {
		return err
	}
	jc.Job.Progress = raw
	return nil
}

// ExtendLock pushes the lease of the running job forward by d. The worker
// renews leases on its own; handlers only need this ahead of a known long
// blocking call.
func ExtendLock(ctx context.Context, d time.Duration) error {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return ErrNotInJob
	}
	return jc.Storage.ExtendLock(ctx, jc.Job.Queue, jc.Job.ID, jc.Token, d)
}

// ChildrenValues returns the decoded return values of the running job's
// completed children, keyed by child.
func ChildrenValues[T any](ctx context.Context) (map[core.JobKey]T, error) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return nil, ErrNotInJob
	}
	return flow.ChildrenValues[T](ctx, jc.Storage, jc.Codec, jc.Job.Queue, jc.Job.ID)
}
