package events

import (
	"log/slog"
	"sync"
)

// subscriberBuf is the per-subscriber channel depth. A subscriber that falls
// this far behind starts dropping events rather than blocking publishers.
const subscriberBuf = 64

// Bus is an in-process publish/subscribe hub for [Event] values. Publishing
// never blocks: slow subscribers drop events and a warning is logged.
//
// The zero value is not usable; call [NewBus].
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus returns an empty [Bus].
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its receive channel plus a
// cancel function. The channel is closed when cancel is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuf)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber. Delivery is best-effort:
// a full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event bus: dropping event for slow subscriber",
				"subscriber", id, "event_type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
