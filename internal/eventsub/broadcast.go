package eventsub

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Hub fans events out to independent subscribers. Each subscriber
// has its own buffer; when it is full the oldest queued event is dropped so
// Publish never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]chan Event
	closed bool
	seq    int64
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[int64]chan Event),
	}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that unsubscribes and closes it.
func (b *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	id := atomic.AddInt64(&b.seq, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// Publish delivers event to every subscriber and reports how many queued
// events were dropped to make room.
func (b *Hub) Publish(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	dropped := 0
	for _, sub := range b.subs {
		dropped += deliver(sub, event)
	}
	return dropped
}

// deliver queues event on ch, discarding the oldest entries until it fits.
func deliver(ch chan Event, event Event) int {
	dropped := 0
	for {
		select {
		case ch <- event:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
	}
}

func (b *Hub) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Hub) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
	b.mu.Unlock()
}
