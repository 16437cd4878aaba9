// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly.
// The worker stores a JobContext in the handler's context.Context so that
// jobctx can reach the running job, its lease and the store.
package context
