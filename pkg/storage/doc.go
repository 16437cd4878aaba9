// Package storage provides the SQL backend of the flow queue.
//
// GormStorage implements core.Storage on any database GORM supports.
// Transitions run in transactions that lock the queue_meta row of every
// queue they touch, which serializes them per queue. Events go to the
// job_events table in the same transaction and are delivered to
// subscribers by polling.
//
// The Redis backend lives in the redis subpackage. Most users should pick a
// backend through the root package instead of importing this one directly.
package storage
