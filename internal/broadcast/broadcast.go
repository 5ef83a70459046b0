// Package broadcast fans task status events out to subscribers
// (websocket clients, the TUI). Each subscriber owns a bounded queue:
// slow consumers lose their oldest events rather than stalling the
// orchestrator.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultQueueSize is the per-subscriber event buffer.
const DefaultQueueSize = 16

// Event is one status update pushed to subscribers.
type Event struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event types.
const (
	TypeTaskStatus = "task_status"
	TypeTaskLog    = "task_log"
	TypeContext    = "context_usage"
	TypeQueue      = "queue_changed"
	TypeSettings   = "settings_changed"
)

// Subscriber receives events in publish order on C.
type Subscriber struct {
	C chan Event

	id      uint64
	dropped atomic.Int64
}

// Dropped reports how many events this subscriber lost to a full queue.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Broadcaster distributes events to all current subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	nextID uint64
	queue  int
	logger hclog.Logger
}

// New creates a broadcaster with the default queue size.
func New(logger hclog.Logger) *Broadcaster {
	return NewSized(logger, DefaultQueueSize)
}

// NewSized creates a broadcaster with a custom per-subscriber queue.
func NewSized(logger hclog.Logger, queue int) *Broadcaster {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if queue < 1 {
		queue = DefaultQueueSize
	}
	return &Broadcaster{
		subs:   make(map[uint64]*Subscriber),
		queue:  queue,
		logger: logger.Named("broadcast"),
	}
}

// Subscribe registers a new subscriber. The caller must eventually
// Unsubscribe it.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{C: make(chan Event, b.queue), id: b.nextID}
	b.subs[sub.id] = sub
	b.logger.Debug("subscriber added", "id", sub.id, "total", len(b.subs))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to
// call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.C)
	b.logger.Debug("subscriber removed", "id", sub.id, "remaining", len(b.subs))
}

// Publish delivers an event to every subscriber. A full queue sheds
// its oldest event so the newest state always gets through. Publish
// never blocks.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.C <- ev:
			continue
		default:
		}

		// Queue full: drop the oldest and retry once. The subscriber
		// may have drained concurrently, so the retry can still fail.
		select {
		case <-sub.C:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.C <- ev:
		default:
			sub.dropped.Add(1)
			b.logger.Warn("subscriber queue saturated, event lost", "id", sub.id, "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.C)
	}
}
