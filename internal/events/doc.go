// Package events defines the typed lifecycle events emitted by the
// orchestration engine and the mailbox that delivers them.
//
// Producers call Publish, which never blocks: events are appended to an
// unbounded in-memory queue. A single consumer goroutine drains the queue in
// publish order and hands every event to each registered Handler in turn, so
// a slow or failing audit sink cannot stall an execution.
package events
