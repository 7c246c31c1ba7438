package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBroadcastQueue = 256
	defaultWriteTimeout   = 5 * time.Second
)

// Peer is a live connection the hub can deliver to.
type Peer interface {
	Emitter
	ID() string
	Close(reason string)
}

type broadcast struct {
	from    string
	event   string
	payload any
}

// Hub tracks live sessions and fans presence events out to them.
type Hub struct {
	mu           sync.RWMutex
	peers        map[string]Peer
	queue        chan broadcast
	writeTimeout time.Duration
}

// NewHub creates an empty hub. Publish drops events once queueSize are pending.
func NewHub(queueSize int, writeTimeout time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = defaultBroadcastQueue
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		peers:        make(map[string]Peer),
		queue:        make(chan broadcast, queueSize),
		writeTimeout: writeTimeout,
	}
}

// Register adds p. Peer ids are unique per connection.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peers[p.ID()] = p
	slog.Info("Console session registered", "session_id", p.ID(), "sessions", len(h.peers))
}

// Unregister removes p.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p.ID()]; ok {
		delete(h.peers, p.ID())
		slog.Info("Console session unregistered", "session_id", p.ID(), "sessions", len(h.peers))
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Publish queues event for every session except from. It never blocks;
// the event is dropped when the queue is full.
func (h *Hub) Publish(from, event string, payload any) bool {
	select {
	case h.queue <- broadcast{from: from, event: event, payload: payload}:
		return true
	default:
		slog.Warn("Broadcast queue full, dropping event", "event", event, "from", from)
		return false
	}
}

// Notify delivers a system notification to every session before returning.
func (h *Hub) Notify(ctx context.Context, message, kind string) {
	h.deliver(ctx, broadcast{
		event: EventSystemNotification,
		payload: SystemNotification{
			Message:   message,
			Type:      kind,
			Timestamp: nowMillis(),
		},
	})
}

// Run delivers published events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-h.queue:
			h.deliver(ctx, b)
		}
	}
}

// CloseAll closes every live session.
func (h *Hub) CloseAll(reason string) {
	for _, p := range h.snapshot("") {
		p.Close(reason)
	}
}

func (h *Hub) deliver(ctx context.Context, b broadcast) {
	for _, p := range h.snapshot(b.from) {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		if err := p.Emit(writeCtx, b.event, b.payload); err != nil {
			slog.Debug("Broadcast delivery failed", "session_id", p.ID(), "event", b.event, "error", err)
		}
		cancel()
	}
}

// snapshot copies the peer set so delivery never holds the lock during I/O.
func (h *Hub) snapshot(exclude string) []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := make([]Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != exclude {
			peers = append(peers, p)
		}
	}
	return peers
}
