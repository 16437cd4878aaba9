// Package core provides the fundamental types and interfaces for the flow queue.
//
// This package contains:
//   - Job, JobOptions and JobState, the job record and its lifecycle
//   - FlowNode and Dependencies for parent/child flows
//   - Storage, the atomic transition contract every backend implements
//   - Event types emitted by every transition
//   - Codec implementations for job payloads
//   - Error types for job processing
//
// Most users should import the root package github.com/jdziat/simple-flow-queue
// instead of this package directly.
package core
