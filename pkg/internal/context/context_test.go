package context

import (
	"context"
	"testing"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

func TestWithJobContextAndGetJobContext(t *testing.T) {
	t.Run("stores and retrieves job context", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		job := &core.Job{
			Queue: "emails",
			ID:    "42",
			Name:  "send",
		}
		jc := &JobContext{
			Job:      job,
			WorkerID: "worker-1",
			Token:    "tok-1",
		}

		// Act
		ctx := WithJobContext(baseCtx, jc)
		retrieved := GetJobContext(ctx)

		// Assert
		if retrieved == nil || retrieved.Job == nil {
			t.Fatal("expected job context to be set, got nil")
		}
		if retrieved.Job.ID != job.ID {
			t.Errorf("expected job ID %q, got %q", job.ID, retrieved.Job.ID)
		}
		if retrieved.WorkerID != "worker-1" {
			t.Errorf("expected worker ID %q, got %q", "worker-1", retrieved.WorkerID)
		}
		if retrieved.Token != "tok-1" {
			t.Errorf("expected token %q, got %q", "tok-1", retrieved.Token)
		}
	})

	t.Run("returns nil when job context not set", func(t *testing.T) {
		if jc := GetJobContext(context.Background()); jc != nil {
			t.Errorf("expected nil, got %+v", jc)
		}
	})

	t.Run("overwrites previous job context", func(t *testing.T) {
		// Arrange
		first := &JobContext{Job: &core.Job{ID: "1"}}
		second := &JobContext{Job: &core.Job{ID: "2"}}

		// Act
		ctx := WithJobContext(context.Background(), first)
		ctx = WithJobContext(ctx, second)

		// Assert
		if got := GetJobContext(ctx); got != second {
			t.Errorf("expected second job context, got %+v", got)
		}
	})

	t.Run("stores codec", func(t *testing.T) {
		jc := &JobContext{Job: &core.Job{ID: "1"}, Codec: core.MsgpackCodec{}}
		got := GetJobContext(WithJobContext(context.Background(), jc))
		if got.Codec.Name() != core.CodecNameMsgpack {
			t.Errorf("expected msgpack codec, got %q", got.Codec.Name())
		}
	})
}

func TestContextIsolation(t *testing.T) {
	t.Run("job context does not leak between contexts", func(t *testing.T) {
		// Arrange
		base := context.Background()
		withJob := WithJobContext(base, &JobContext{Job: &core.Job{ID: "1"}})

		// Act
		_ = withJob
		got := GetJobContext(base)

		// Assert
		if got != nil {
			t.Errorf("expected parent context to stay empty, got %+v", got)
		}
	})
}
