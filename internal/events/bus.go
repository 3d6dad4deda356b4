package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Services publish
// milestones (quotes, trade status, price refreshes) and the broadcaster
// relays them to connected clients.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan Message
	anySub []chan Message
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Message)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// SubscribeAll registers a listener for every topic. Used by the broadcaster
// so one goroutine can bridge the whole bus onto websocket frames.
func (b *Bus) SubscribeAll(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.anySub = append(b.anySub, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.anySub {
			if c == ch {
				close(c)
				b.anySub = append(b.anySub[:i], b.anySub[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the message out to subscribers without blocking the caller.
func (b *Bus) Publish(t Topic, identity string, payload any) {
	msg := Message{Topic: t, Identity: identity, Data: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- msg:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
	for _, ch := range b.anySub {
		select {
		case ch <- msg:
		default:
		}
	}
}
