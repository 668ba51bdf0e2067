// Package notifier is the in-process progress channel. Sync runs publish
// fire-and-forget messages keyed by user; HTTP streaming handlers
// subscribe to relay them. The hub is an injected object with an
// explicit lifecycle, created at startup and closed at shutdown.
package notifier

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
)

// Event is one progress message.
type Event struct {
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// subscriberBuffer bounds how far a slow consumer may lag before its
// events are dropped.
const subscriberBuffer = 64

// Hub fans progress events out to per-user subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Event
	nextID      int
	closed      bool
	logger      *zap.Logger
}

// NewHub creates a Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[int]chan Event),
		logger:      logger,
	}
}

// Subscribe registers a listener for one user's events. The returned
// cancel func must be called when the listener goes away; it closes the
// channel.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.nextID++
	id := h.nextID
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[int]chan Event)
	}
	h.subscribers[userID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[userID]
		if !ok {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the user. Delivery is
// fire-and-forget: a subscriber whose buffer is full loses this event
// rather than blocking the pipeline.
func (h *Hub) Publish(userID, topic, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subscribers[userID] {
		select {
		case ch <- Event{Topic: topic, Message: message, At: time.Now()}:
		default:
			h.logger.Debug("Dropping progress event for slow subscriber",
				zap.String("user", userID),
				zap.String("topic", topic))
		}
	}
}

// Close tears the hub down, closing every subscriber channel. Publishes
// after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	h.subscribers = make(map[string]map[int]chan Event)
}

// Verify interface compliance
var _ port.Notifier = (*Hub)(nil)
