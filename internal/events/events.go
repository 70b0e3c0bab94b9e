package events

import (
	"sort"
	"sync"
)

// Broadcaster fans a value out to registered listeners. A panicking
// listener is isolated so the remaining listeners still get notified.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: map[int]func(T){}}
}

func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(T), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.subs[id])
	}
	b.mu.Unlock()
	for _, fn := range listeners {
		notify(fn, value)
	}
}

func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func notify[T any](fn func(T), value T) {
	defer func() {
		_ = recover()
	}()
	fn(value)
}
