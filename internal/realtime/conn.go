package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Conn wraps one upgraded WebSocket with a bounded outbound queue and
// the subscription/identity state the hub needs to route messages to
// it. Unlike the teacher's Client, which is anonymous and gets every
// broadcast, a Conn optionally carries a UserID and only receives
// topics it has subscribed to.
type Conn struct {
	ID     string
	UserID string // empty until authenticated

	ws   *websocket.Conn
	Send chan Message

	mu     sync.Mutex
	closed bool

	log zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, log zerolog.Logger) *Conn {
	return &Conn{
		ID:   id,
		ws:   ws,
		Send: make(chan Message, sendBuffer),
		log:  log,
	}
}

// enqueue attempts a non-blocking send, matching the teacher's
// skip-if-full behavior but reporting the drop back to the hub so it
// can be counted instead of only logged.
func (c *Conn) enqueue(msg Message) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains subscribe/unsubscribe requests until the connection
// drops, then unregisters itself from the hub.
func (c *Conn) readPump(hub *Hub) {
	defer hub.Unregister(c)

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req clientRequest
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}
		switch req.Type {
		case "subscribe":
			if err := hub.Subscribe(c, req.SubscriptionType); err != nil {
				c.log.Warn().Err(err).Str("conn", c.ID).Str("topic", string(req.SubscriptionType)).Msg("realtime: subscribe rejected")
			}
		case "unsubscribe":
			hub.Unsubscribe(c, req.SubscriptionType)
		}
	}
}
