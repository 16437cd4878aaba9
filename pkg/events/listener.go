package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Listener dispatches the events of one queue to registered callbacks.
// Callbacks run on the listener goroutine in event order.
type Listener struct {
	src    core.EventSource
	queue  string
	logger *slog.Logger

	mu      sync.RWMutex
	byType  map[core.EventType][]func(*core.JobEvent)
	onQueue []func(*core.QueueEvent)
	onAny   []func(core.Event)
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger used for callback panics.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(li *Listener) {
		if l != nil {
			li.logger = l
		}
	}
}

// NewListener creates a listener for queue. Nothing is received until Run.
func NewListener(src core.EventSource, queue string, opts ...ListenerOption) *Listener {
	l := &Listener{
		src:    src,
		queue:  queue,
		logger: slog.Default(),
		byType: make(map[core.EventType][]func(*core.JobEvent)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("queue", queue)
	return l
}

// On registers fn for job events of type t.
func (l *Listener) On(t core.EventType, fn func(*core.JobEvent)) *Listener {
	l.mu.Lock()
	l.byType[t] = append(l.byType[t], fn)
	l.mu.Unlock()
	return l
}

// OnCompleted registers fn for completed jobs with their return value.
func (l *Listener) OnCompleted(fn func(id string, returnValue []byte)) *Listener {
	return l.On(core.EventCompleted, func(e *core.JobEvent) { fn(e.JobID, e.ReturnValue) })
}

// OnFailed registers fn for jobs that failed for good.
func (l *Listener) OnFailed(fn func(id, reason string)) *Listener {
	return l.On(core.EventFailed, func(e *core.JobEvent) { fn(e.JobID, e.FailedReason) })
}

// OnProgress registers fn for progress updates.
func (l *Listener) OnProgress(fn func(id string, progress []byte)) *Listener {
	return l.On(core.EventProgress, func(e *core.JobEvent) { fn(e.JobID, e.Progress) })
}

// OnStalled registers fn for jobs reclaimed from a dead worker.
func (l *Listener) OnStalled(fn func(id string)) *Listener {
	return l.On(core.EventStalled, func(e *core.JobEvent) { fn(e.JobID) })
}

// OnQueue registers fn for queue-wide events such as paused or drained.
func (l *Listener) OnQueue(fn func(*core.QueueEvent)) *Listener {
	l.mu.Lock()
	l.onQueue = append(l.onQueue, fn)
	l.mu.Unlock()
	return l
}

// OnAny registers fn for every event.
func (l *Listener) OnAny(fn func(core.Event)) *Listener {
	l.mu.Lock()
	l.onAny = append(l.onAny, fn)
	l.mu.Unlock()
	return l
}

// Run subscribes and dispatches until ctx is done or the stream closes.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.src.Subscribe(ctx, l.queue)
	if err != nil {
		return fmt.Errorf("jobs: subscribe to %s: %w", l.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			l.dispatch(ev)
		}
	}
}

func (l *Listener) dispatch(ev core.Event) {
	l.mu.RLock()
	anys := l.onAny
	var jobFns []func(*core.JobEvent)
	var queueFns []func(*core.QueueEvent)
	switch e := ev.(type) {
	case *core.JobEvent:
		jobFns = l.byType[e.Type]
	case *core.QueueEvent:
		queueFns = l.onQueue
	}
	l.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event callback panicked", "event", ev.Kind(), "panic", r)
		}
	}()
	for _, fn := range anys {
		fn(ev)
	}
	switch e := ev.(type) {
	case *core.JobEvent:
		for _, fn := range jobFns {
			fn(e)
		}
	case *core.QueueEvent:
		for _, fn := range queueFns {
			fn(e)
		}
	}
}
