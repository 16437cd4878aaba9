// Package queue provides the producer API of a named queue.
//
// This package includes:
//   - Queue: adds jobs, pauses, drains and inspects one queue
//   - Option: per-job options (delay, priority, attempts, backoff, ...)
//   - ConfigOption: queue-wide settings (codec, logger, default job options)
//   - Hook registration for job lifecycle events
//   - Event subscription for monitoring
//
// Most users should import the root package github.com/jdziat/simple-flow-queue
// which re-exports Queue and all option functions.
package queue
