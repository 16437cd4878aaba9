// Package worker provides the Worker type for job processing.
//
// A Worker leases jobs from one queue, runs the handler registered for the
// job name and reports the outcome with the lease token. While a handler
// runs, the lease is renewed every LockRenewTime; a renewal rejected by the
// store means another worker owns the job now and the run is abandoned
// without reporting.
//
// Most users should import the root package github.com/jdziat/simple-flow-queue
// which provides access to worker configuration through queue.NewWorker().
package worker
