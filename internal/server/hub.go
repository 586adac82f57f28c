package server

import "sync"

// listenerBuffer is the number of queued messages per client before new
// messages are dropped for that client.
const listenerBuffer = 32

// Hub fans out messages from the capture service to all connected clients.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives messages published on the hub.
type Listener struct {
	C chan any
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Listener {
	l := &Listener{C: make(chan any, listenerBuffer)}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	return l
}

// Unsubscribe removes a listener. Its channel is left open so late
// publishers never panic.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Publish sends msg to every listener. Slow listeners miss the message
// rather than blocking the publisher.
func (h *Hub) Publish(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		l.Send(msg)
	}
}

// Send queues msg for this listener only, dropping it if the queue is full.
func (l *Listener) Send(msg any) {
	select {
	case l.C <- msg:
	default:
	}
}
