// Package eventbus provides an in-process publish/subscribe bus. Publishing
// never blocks: events for a subscriber whose buffer is full are dropped and
// counted.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscriber channel capacity used by Subscribe.
const DefaultBuffer = 64

// TypedBus is a type-safe publish/subscribe bus for events of type T.
type TypedBus[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	closed  bool
	dropped atomic.Uint64
}

// NewTyped creates a new TypedBus.
func NewTyped[T any]() *TypedBus[T] { return &TypedBus[T]{} }

// Publish sends the event to all subscribers. Delivery is non-blocking.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the default buffer.
func (b *TypedBus[T]) Subscribe() <-chan T { return b.SubscribeBuffered(DefaultBuffer) }

// SubscribeBuffered registers a subscriber whose channel holds up to n
// pending events.
func (b *TypedBus[T]) SubscribeBuffered(n int) <-chan T {
	if n < 0 {
		n = 0
	}
	ch := make(chan T, n)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.mu.Unlock()
}
