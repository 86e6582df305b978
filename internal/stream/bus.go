// Package stream fans map envelopes out to websocket clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/orasdigital/citymap/pkg/streaming"
)

// Bus fan-outs envelopes to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the envelope.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan streaming.Envelope]struct{}
	dropped atomic.Uint64
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan streaming.Envelope]struct{})}
}

// Publish forwards env to every subscriber.
func (b *Bus) Publish(env streaming.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener with the given buffer. The channel is
// closed once ctx ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan streaming.Envelope {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan streaming.Envelope, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Subscribers returns the number of active listeners.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many envelopes were skipped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
