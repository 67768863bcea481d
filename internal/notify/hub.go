// Package notify fans committed-batch events out to an owner's open change
// streams so connected clients know when to pull.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/tasksync/internal/engine"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// EventType names a stream event.
type EventType string

// EventChanges announces that a batch for the owner committed.
const EventChanges EventType = "changes"

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 16

// ErrTooManySubscribers is returned when an owner already has the maximum
// number of open subscriptions.
var ErrTooManySubscribers = errors.New("too many subscriptions for owner")

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Event is one message on a change stream.
type Event struct {
	Type      EventType `json:"type"`
	Applied   int       `json:"applied"`
	Conflicts int       `json:"conflicts"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription receives events for one owner until closed.
type Subscription struct {
	ownerID string
	events  chan Event
	hub     *Hub
	once    sync.Once
}

// Events returns the event channel. It is closed when the subscription or
// the hub closes.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub tracks subscriptions per owner. It implements engine.Observer.
type Hub struct {
	mu          sync.Mutex
	owners      map[string]map[*Subscription]struct{}
	maxPerOwner int
	buffer      int
	closed      bool
	now         func() time.Time
}

var _ engine.Observer = (*Hub)(nil)

// NewHub creates a hub allowing maxPerOwner concurrent subscriptions per
// owner. Zero or less means unlimited.
func NewHub(maxPerOwner int) *Hub {
	return &Hub{
		owners:      make(map[string]map[*Subscription]struct{}),
		maxPerOwner: maxPerOwner,
		buffer:      DefaultBuffer,
		now:         time.Now,
	}
}

// Subscribe opens a subscription for ownerID.
func (h *Hub) Subscribe(ownerID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	subs := h.owners[ownerID]
	if h.maxPerOwner > 0 && len(subs) >= h.maxPerOwner {
		return nil, ErrTooManySubscribers
	}
	if subs == nil {
		subs = make(map[*Subscription]struct{})
		h.owners[ownerID] = subs
	}
	s := &Subscription{ownerID: ownerID, events: make(chan Event, h.buffer), hub: h}
	subs[s] = struct{}{}
	return s, nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.owners[s.ownerID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.owners, s.ownerID)
	}
	close(s.events)
}

// Publish delivers ev to every subscription of ownerID. A subscription
// whose buffer is full skips the event; the events it already holds tell
// the client to pull.
func (h *Hub) Publish(ownerID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.owners[ownerID] {
		select {
		case s.events <- ev:
		default:
			slog.Debug("stream buffer full, event dropped",
				"component", "notify",
				"action", "publish_dropped",
				"owner_id", ownerID,
			)
		}
	}
}

// Subscribers returns the number of open subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners[ownerID])
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for owner, subs := range h.owners {
		for s := range subs {
			close(s.events)
		}
		delete(h.owners, owner)
	}
}

// OperationProcessed implements engine.Observer. Streams only carry
// batch-level events.
func (h *Hub) OperationProcessed(context.Context, string, tasksync.Operation, tasksync.Outcome) {}

// BatchProcessed implements engine.Observer by publishing an EventChanges
// for committed batches that changed or conflicted with server state.
func (h *Hub) BatchProcessed(_ context.Context, ownerID string, stats engine.BatchStats) {
	if stats.Err != nil || stats.Applied+stats.Conflicts == 0 {
		return
	}
	h.Publish(ownerID, Event{
		Type:      EventChanges,
		Applied:   stats.Applied,
		Conflicts: stats.Conflicts,
		Timestamp: h.now().UTC(),
	})
}
