// Package schedule computes run times for repeatable jobs.
//
// A job added with core.JobOptions.Repeat carries either a five field cron
// Pattern or an Every interval. FromRepeat turns that into a Schedule, and
// IterationID names each iteration so that only one job per due time can
// exist in a queue.
package schedule
