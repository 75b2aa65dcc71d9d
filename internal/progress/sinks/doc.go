// Package sinks implements concrete progress consumers such as Prometheus,
// repository-backed run history, and structured logging. Each sink satisfies
// the progress.Sink interface.
package sinks
