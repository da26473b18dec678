package app

import (
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/util"
)

// Broadcaster distributes values to many subscribers. The latest snapshot, if
// set, is delivered to each new subscriber first. A subscriber whose buffer
// is full is dropped rather than blocking the sender.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]chan T
	snapshot    T
	hasSnapshot bool
	closed      bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[string]chan T),
	}
}

// SetSnapshot caches v for future subscribers.
func (b *Broadcaster[T]) SetSnapshot(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshot = v
	b.hasSnapshot = true
}

// Subscribe registers subscriberID. A closed broadcaster returns a closed
// channel.
func (b *Broadcaster[T]) Subscribe(subscriberID string, bufferSize int) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch
	}

	if old, exists := b.subscribers[subscriberID]; exists {
		close(old)
	}
	ch := make(chan T, max(bufferSize, 1))
	b.subscribers[subscriberID] = ch

	if b.hasSnapshot {
		ch <- b.snapshot
	}

	util.GetLogger().Debug("Subscriber added", "id", subscriberID, "total", len(b.subscribers))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[subscriberID]; exists {
		close(ch)
		delete(b.subscribers, subscriberID)
		util.GetLogger().Debug("Subscriber removed", "id", subscriberID, "remaining", len(b.subscribers))
	}
}

// Broadcast sends v to every subscriber without blocking.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			close(ch)
			delete(b.subscribers, id)
			util.GetLogger().Warn("Dropping subscriber due to full channel", "id", id)
		}
	}
}

// Close closes every subscriber channel. Idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan T)
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
