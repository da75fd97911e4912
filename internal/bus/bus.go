// Package bus implements the multi-producer-single-consumer event channel
// that connects the tracer, stdio relay, stack sampler, and adapter
// sidecars to the single store-writer consumer (spec §4.2, §5).
package bus

import "github.com/jaso1024/poe/internal/events"

// Bus is a thin wrapper over a buffered Go channel. Producers call Send;
// once every producer has stopped sending, the bus's owner calls Close, and
// the consumer ranges over Events until the channel is closed and empty.
//
// Backpressure is bounded by the channel: once capacity events are waiting,
// Send blocks until the consumer receives one. The store writer's flush
// cadence (spec §4.3) and the stdio byte rings (spec §4.1) bound the rest of
// the capture's memory.
type Bus struct {
	ch chan events.Event
}

// New creates a Bus with the given channel capacity (a throughput knob, not
// a correctness one).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		ch: make(chan events.Event, capacity),
	}
}

// Producer is a handle obtained by a goroutine that will Send events onto
// the bus. The bus does not count its producers: Close must still be called
// exactly once, by whichever caller owns the bus's lifetime, after every
// producer has stopped sending.
type Producer struct {
	b *Bus
}

// NewProducer registers a new producer.
func (b *Bus) NewProducer() *Producer {
	return &Producer{b: b}
}

// Send delivers ev to the consumer. Send never blocks indefinitely longer
// than the consumer takes to drain; callers that need to avoid blocking
// should size the bus's capacity generously.
func (p *Producer) Send(ev events.Event) {
	p.b.ch <- ev
}

// Events returns the receive-only channel the store writer drains.
func (b *Bus) Events() <-chan events.Event {
	return b.ch
}

// Close closes the underlying channel. Must be called exactly once, after
// all producers have stopped sending, to signal end-of-stream to the
// consumer (spec §5: "producers drop their channel sender, causing the
// writer to flush and exit").
func (b *Bus) Close() {
	close(b.ch)
}
