package tracker

import (
	"sync"
	"time"

	"example.com/walks/internal/domain"
)

// EventType names a tracker lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// Event is a typed state-change notification delivered to subscribers. The
// engine pushes these over channels; no UI-binding semantics live here.
type Event struct {
	Type    EventType
	WalkID  string
	OwnerID string
	Status  domain.Status
	At      time.Time
}

const subscriberBuffer = 16

// broadcaster fans events out to zero or more subscribers. Delivery is
// non-blocking: a subscriber that stops draining loses events rather than
// stalling the recording path.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the channel.
func (b *broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
