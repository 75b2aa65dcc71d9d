// Package scan runs corpus work on a fixed pool of workers.
//
// The pending queue holds as many tasks as there are workers. When it is full
// the submitting goroutine runs the task itself, so producers slow down to the
// speed of the pool without dropping work or buffering without bound.
// Shutdown waits for every accepted task and has no timeout.
package scan
