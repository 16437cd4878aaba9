// Package scheduler keeps queues moving when no job transition does.
//
// A Scheduler promotes delayed jobs whose due time has passed and reclaims
// active jobs whose lease expired without renewal (stalled jobs). It sleeps
// until the next delayed job is due or the next stall check, within
// configured bounds, and wakes early when the store announces a newly
// delayed job.
package scheduler
