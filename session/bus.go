package session

import (
	"sync"

	"github.com/hupe1980/voicemesh/core"
)

// Compile time check to ensure InMemoryBus satisfies the core.Bus interface.
var _ core.Bus = (*InMemoryBus)(nil)

const subscriberBuffer = 64

// InMemoryBus is a process-local core.Bus. Publish never blocks; events for
// subscribers with full buffers are dropped.
type InMemoryBus struct {
	mu      sync.RWMutex
	nextID  int
	session map[string]map[int]chan core.Event
	global  map[int]chan core.Event
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		session: make(map[string]map[int]chan core.Event),
		global:  make(map[int]chan core.Event),
	}
}

// Publish delivers ev to all subscribers of sessionID and all global
// subscribers.
func (b *InMemoryBus) Publish(sessionID string, ev core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.session[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.global {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber for one session. The returned cancel
// function unregisters it and closes the channel.
func (b *InMemoryBus) Subscribe(sessionID string) (<-chan core.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan core.Event, subscriberBuffer)
	if b.session[sessionID] == nil {
		b.session[sessionID] = make(map[int]chan core.Event)
	}
	b.session[sessionID][id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.session[sessionID]
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.session, sessionID)
		}
		close(ch)
	}
}

// SubscribeAll registers a subscriber for every session's events.
func (b *InMemoryBus) SubscribeAll() (<-chan core.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan core.Event, subscriberBuffer)
	b.global[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.global[id]; !ok {
			return
		}
		delete(b.global, id)
		close(ch)
	}
}
