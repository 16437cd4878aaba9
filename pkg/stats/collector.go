package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
)

// pendingStates are the states counted as queue depth.
var pendingStates = []core.JobState{
	core.StateWaiting,
	core.StatePrioritized,
	core.StatePaused,
	core.StateDelayed,
}

// Collector counts terminal events of one queue and periodically snapshots
// its depth.
type Collector struct {
	queue     *queue.Queue
	stats     Storage
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	counters Counters

	// ready is closed once the collector has subscribed to events.
	ready     chan struct{}
	readyOnce sync.Once
}

// CollectorOption configures the Collector.
type CollectorOption interface {
	apply(*Collector)
}

type collectorOptionFunc func(*Collector)

func (f collectorOptionFunc) apply(c *Collector) { f(c) }

// WithRetention sets how long stats rows are kept. Zero keeps them forever.
func WithRetention(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.retention = d
	})
}

// WithInterval sets how often counters are flushed and depth is sampled.
func WithInterval(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.now = now
	})
}

// NewCollector creates a Collector for q.
func NewCollector(q *queue.Queue, stats Storage, opts ...CollectorOption) *Collector {
	c := &Collector{
		queue:     q,
		stats:     stats,
		retention: 7 * 24 * time.Hour,
		interval:  time.Minute,
		logger:    q.Logger(),
		now:       time.Now,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// WaitReady blocks until the collector has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Start consumes the queue's local event fan-out until ctx is cancelled.
// Queue.Listen must be running for store events to arrive.
func (c *Collector) Start(ctx context.Context) {
	events := c.queue.Events()
	defer c.queue.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		case e := <-events:
			c.handleEvent(e)
		case <-ticker.C:
			c.Flush(ctx)
			c.snapshot(ctx)
			c.prune(ctx)
		}
	}
}

func (c *Collector) handleEvent(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind() {
	case core.EventCompleted:
		c.counters.Completed++
	case core.EventFailed:
		c.counters.Failed++
	case core.EventRetrying:
		c.counters.Retried++
	case core.EventStalled:
		c.counters.Stalled++
	}
}

// Flush writes accumulated counters to the stats storage.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.counters
	c.counters = Counters{}
	c.mu.Unlock()

	if batch.zero() {
		return
	}
	ts := c.now().Truncate(time.Minute)
	if err := c.stats.UpsertStatCounters(ctx, c.queue.Name(), ts, batch); err != nil {
		c.logger.Warn("failed to flush stats", "error", err)
	}
}

func (c *Collector) snapshot(ctx context.Context) {
	counts, err := c.queue.GetJobCounts(ctx, append(pendingStates, core.StateActive)...)
	if err != nil {
		c.logger.Warn("failed to sample queue depth", "error", err)
		return
	}
	running := counts[core.StateActive]
	pending := counts.Total() - running
	ts := c.now().Truncate(time.Minute)
	if err := c.stats.SnapshotQueueDepth(ctx, c.queue.Name(), ts, pending, running); err != nil {
		c.logger.Warn("failed to store queue depth", "error", err)
	}
}

func (c *Collector) prune(ctx context.Context) {
	if c.retention > 0 {
		if _, err := c.stats.PruneStats(ctx, c.now().Add(-c.retention)); err != nil {
			c.logger.Warn("failed to prune stats", "error", err)
		}
	}
}
