// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the scan engine uses to report run progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// Prometheus metrics, structured logs, or a persistent run store.
package progress
