package events

import "context"

// Sink consumes batches of lifecycle events. Implementations must honor ctx
// deadlines and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
