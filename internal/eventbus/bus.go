// Package eventbus implements the single-shot rendezvous mechanism that lets
// synchronous client code suspend while awaiting an asynchronous protocol
// reply. Code registers a handler under a (kind, id) pair; another goroutine
// later fires it exactly once with a 32-bit value. Adapted from
// original_source/src/event-manager.cpp's Events type.
package eventbus

import (
	"log/slog"
	"sync"
)

// NoID matches broadcast-style events: handlers registered with id == NoID
// are fired by invoking with that same sentinel id, not by wildcard match
// against arbitrary request ids.
const NoID uint32 = ^uint32(0)

// Handler is invoked exactly once with the value the event carried, or 0 if
// the bus was drained before the event fired.
type Handler func(value uint32)

type key struct {
	Kind uint32
	ID   uint32
}

// Bus is a thread-safe single-shot rendezvous point. The zero value is not
// usable; construct with New.
type Bus struct {
	mu       sync.Mutex
	handlers map[key]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[key]Handler)}
}

// AddHandler registers cb under (kind, id). Multiple handlers with distinct
// (kind, id) pairs coexist; registering a second handler under an identical
// pair before the first fires overwrites it, since at most one in-flight
// request should ever own a given id.
func (b *Bus) AddHandler(kind, id uint32, cb Handler) {
	b.mu.Lock()
	b.handlers[key{kind, id}] = cb
	b.mu.Unlock()
}

// RemoveHandler cancels a previously registered handler without firing it,
// used when a caller gives up waiting (e.g. a context timeout) so that a
// late server reply does not invoke a callback whose caller has moved on.
func (b *Bus) RemoveHandler(kind, id uint32) {
	b.mu.Lock()
	delete(b.handlers, key{kind, id})
	b.mu.Unlock()
}

// Invoke finds the exactly-one handler matching (kind, id), removes it, and
// runs it with value outside the bus lock so that a handler which itself
// registers new handlers cannot deadlock. If no handler matches, the event
// is dropped with a warning.
func (b *Bus) Invoke(kind, id, value uint32) {
	b.mu.Lock()
	k := key{kind, id}
	cb, ok := b.handlers[k]
	if ok {
		delete(b.handlers, k)
	}
	b.mu.Unlock()

	if !ok {
		slog.Warn("eventbus: dropping unhandled event", "kind", kind, "id", id, "value", value)
		return
	}
	cb(value)
}

// Drain atomically pops every remaining handler and fires each with
// value=0, outside the lock. Used on shutdown so blocked awaiters unblock;
// handlers must interpret 0 as "aborted".
func (b *Bus) Drain() {
	b.mu.Lock()
	pending := b.handlers
	b.handlers = make(map[key]Handler)
	b.mu.Unlock()

	for _, cb := range pending {
		cb(0)
	}
}
