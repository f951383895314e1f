// Package notify pushes committed session events to connected participants
// over WebSocket.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/chatpay/internal/engine"
)

const defaultQueueSize = 32

// Subscriber is one connection's outbound event queue.
type Subscriber struct {
	userID  string
	queue   chan []byte
	dropped atomic.Int64
}

// Events returns the queue of encoded events. It is closed on Unsubscribe.
func (s *Subscriber) Events() <-chan []byte {
	return s.queue
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// enqueue never blocks. A full queue drops its oldest event to make room.
func (s *Subscriber) enqueue(data []byte) {
	select {
	case s.queue <- data:
		return
	default:
	}

	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.queue <- data:
	default:
		s.dropped.Add(1)
	}
}

// Hub fans events out to every connection of each recipient.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscriber]struct{}
	queueSize int
	logger    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[string]map[*Subscriber]struct{}),
		queueSize: defaultQueueSize,
		logger:    logger,
	}
}

// Subscribe registers a new connection for userID.
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{userID: userID, queue: make(chan []byte, h.queueSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.logger.Info("Event subscriber registered", "user_id", userID, "connections", len(h.subs[userID]))
	return sub
}

// Unsubscribe removes sub and closes its queue. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, exists := subs[sub]; !exists {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.queue)
	h.logger.Info("Event subscriber unregistered", "user_id", sub.userID, "dropped", sub.Dropped())
}

// Count returns the number of live connections for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Publish implements engine.Notifier.
func (h *Hub) Publish(evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("Failed to encode session event", "error", err, "session_id", evt.SessionID)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range evt.Recipients {
		for sub := range h.subs[userID] {
			sub.enqueue(data)
		}
	}
}
