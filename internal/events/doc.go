// Package events carries frontier lifecycle events (submitted, dispatched,
// retried, dead-lettered and so on) through a non-blocking batching hub to
// pluggable sinks. Emitting never blocks the scheduler; events are dropped
// under backpressure.
package events
