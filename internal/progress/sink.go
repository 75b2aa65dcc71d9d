package progress

import "context"

// Sink receives batches from the Hub's flush goroutine. Consume gets a
// deadline of Config.SinkTimeout; an error is logged and the batch dropped
// for that sink only.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events without blocking. The scan engine emits into
// it; Hub is the production implementation.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
