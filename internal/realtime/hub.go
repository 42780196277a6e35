package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// Hub tracks every live connection by user and by topic subscription
// under one lock, the generalized form of the teacher's single
// clients map. It satisfies both collector.Publisher and
// strategy.Notifier's Publish(topic string, data any) seam, so C5 and
// C8 can push into it without importing it directly.
type Hub struct {
	mu                sync.RWMutex
	connectionsByUser map[string]map[*Conn]struct{}
	subscriptions     map[*Conn]map[Topic]struct{}

	Verify AuthVerifier
	Log    zerolog.Logger

	dropped atomic.Uint64
}

func NewHub(verify AuthVerifier, log zerolog.Logger) *Hub {
	return &Hub{
		connectionsByUser: make(map[string]map[*Conn]struct{}),
		subscriptions:     make(map[*Conn]map[Topic]struct{}),
		Verify:            verify,
		Log:               log,
	}
}

// Register adds a connection to the hub. userID is "" for connections
// that never authenticated; they can still subscribe to market_data.
func (h *Hub) Register(c *Conn, userID string) {
	c.UserID = userID

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectionsByUser[userID] == nil {
		h.connectionsByUser[userID] = make(map[*Conn]struct{})
	}
	h.connectionsByUser[userID][c] = struct{}{}
	h.subscriptions[c] = make(map[Topic]struct{})
}

// Unregister removes a connection from both indexes and closes its
// Send channel so writePump exits.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if conns, ok := h.connectionsByUser[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connectionsByUser, c.UserID)
		}
	}
	delete(h.subscriptions, c)
	h.mu.Unlock()

	c.close()
}

// Subscribe adds a topic to a connection's subscription set. Every
// topic but market_data requires the connection to already carry a
// UserID from a verified token.
func (h *Hub) Subscribe(c *Conn, topic Topic) error {
	if topic.requiresAuth() && c.UserID == "" {
		return apperrors.New(apperrors.KindUnauthorized, "realtime: subscription to "+string(topic)+" requires authentication")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscriptions[c]; !ok {
		return apperrors.New(apperrors.KindNotFound, "realtime: unknown connection")
	}
	h.subscriptions[c][topic] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(c *Conn, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscriptions[c]; ok {
		delete(subs, topic)
	}
}

// SendToUser delivers msg to every connection registered for userID,
// regardless of topic subscriptions — used for direct, addressed
// pushes like order fills.
func (h *Hub) SendToUser(userID string, msg Message) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.connectionsByUser[userID]))
	for c := range h.connectionsByUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.deliver(c, msg)
	}
}

// BroadcastToSubscribers delivers msg to every connection currently
// subscribed to topic, across all users.
func (h *Hub) BroadcastToSubscribers(topic Topic, msg Message) {
	h.mu.RLock()
	conns := make([]*Conn, 0)
	for c, subs := range h.subscriptions {
		if _, ok := subs[topic]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.deliver(c, msg)
	}
}

// deliver enqueues msg non-blockingly. A full Send buffer means the
// client is too slow to keep up rather than merely busy, so unlike
// the teacher's silent skip, the connection is dropped and the drop
// is counted.
func (h *Hub) deliver(c *Conn, msg Message) {
	if c.enqueue(msg) {
		return
	}
	h.dropped.Add(1)
	h.Log.Warn().Str("conn", c.ID).Msg("realtime: send buffer full, dropping connection")
	h.Unregister(c)
}

// DroppedCount reports how many connections have been force-closed
// for falling behind their send buffer.
func (h *Hub) DroppedCount() uint64 {
	return h.dropped.Load()
}

// Publish satisfies collector.Publisher and strategy.Notifier: both
// packages only know a topic string and a payload, so this maps the
// string onto Topic and broadcasts to whoever is subscribed. Callers
// that need to address one user use SendToUser directly.
func (h *Hub) Publish(topic string, data any) {
	h.BroadcastToSubscribers(Topic(topic), Message{Type: topic, Data: data, Timestamp: time.Now()})
}
