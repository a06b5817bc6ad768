package services

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/maogitmao/billions-dollars/models"
)

// EventHandler receives one published event. Handlers run synchronously
// on the publishing goroutine, so a handler doing expensive work must
// hand off to its own goroutine or channel instead of blocking the
// publisher.
type EventHandler func(kind models.EventKind, payload interface{})

type subscriber struct {
	id      string
	handler EventHandler
}

// EventBus is a publish/subscribe registry keyed by event kind.
// Publish invokes every handler registered for the kind in subscription
// order. The bus keeps no delivery history: a subscriber registered
// after a publish never sees that event. The registration lock is only
// held while the subscriber list is copied, so publishes from multiple
// goroutines proceed concurrently and handlers run outside the lock.
type EventBus struct {
	mu   sync.RWMutex
	subs map[models.EventKind][]subscriber
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[models.EventKind][]subscriber),
	}
}

// Subscribe registers a handler for an event kind and returns a
// subscription id for Unsubscribe.
func (b *EventBus) Subscribe(kind models.EventKind, handler EventHandler) string {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription. It takes effect for publishes
// that start after it returns; a publish already copying the list may
// still deliver one final event.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, list := range b.subs {
		for i, sub := range list {
			if sub.id == id {
				b.subs[kind] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish delivers the payload to every handler currently registered
// for the kind, synchronously and in subscription order.
func (b *EventBus) Publish(kind models.EventKind, payload interface{}) {
	b.mu.RLock()
	list := b.subs[kind]
	handlers := make([]subscriber, len(list))
	copy(handlers, list)
	b.mu.RUnlock()

	for _, sub := range handlers {
		b.dispatch(kind, sub, payload)
	}
}

// dispatch runs one handler, containing a panic so a broken subscriber
// cannot abort the publisher's cycle.
func (b *EventBus) dispatch(kind models.EventKind, sub subscriber, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] handler panic on %s: %v", kind, r)
		}
	}()
	sub.handler(kind, payload)
}

// SubscriberCount returns how many handlers are registered for a kind.
func (b *EventBus) SubscriberCount(kind models.EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
