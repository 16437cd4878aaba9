// Package events consumes the event stream a store publishes for a queue.
//
// Listener dispatches events to typed callbacks in process. AMQPRelay
// forwards them to a RabbitMQ topic exchange so services without store
// access can follow job progress.
package events
