// Package events defines the typed event stream the generation engine emits.
// The engine publishes; presentation layers subscribe. The core has no
// dependency on any consumer.
package events

import (
	"sync"
	"time"

	"github.com/mkurman/synthlabs-sub004/internal/extract"
	"github.com/mkurman/synthlabs-sub004/internal/prefetch"
)

// Type enumerates known event kinds.
type Type string

const (
	// TypeProgress carries an aggregate progress update.
	TypeProgress Type = "progress"
	// TypeItem describes a single work item's status change.
	TypeItem Type = "item"
	// TypePrefetch carries a prefetch buffer snapshot.
	TypePrefetch Type = "prefetch"
	// TypeStream carries a streaming-extraction snapshot.
	TypeStream Type = "stream"
)

// Progress is the aggregate batch position.
type Progress struct {
	Current       int `json:"current"`
	Total         int `json:"total"`
	ActiveWorkers int `json:"active_workers"`
}

// ItemUpdate describes one item's status change.
type ItemUpdate struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Event is a generic container for engine events. Only the field matching
// Type is set.
type Event struct {
	Type     Type            `json:"type"`
	Progress *Progress       `json:"progress,omitempty"`
	Item     *ItemUpdate     `json:"item,omitempty"`
	Prefetch *prefetch.State `json:"prefetch,omitempty"`
	Stream   *extract.State  `json:"stream,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: events are
// dropped for subscribers whose buffer is full.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty Bus. A nil *Bus is safe to publish to.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
}

// WatchPrefetch republishes every prefetch state change on the bus, so
// subscribers see buffer snapshots alongside progress and item events.
func WatchPrefetch(bus *Bus, m *prefetch.Manager) {
	m.OnState(func(st prefetch.State) {
		bus.Publish(Event{Type: TypePrefetch, Prefetch: &st})
	})
}

// Publish delivers ev to every subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}
