package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// wires them into a Hub. A request's token query parameter, if
// present and valid, authenticates the connection for user-scoped
// topics; an absent or invalid token leaves the connection anonymous,
// restricted to market_data.
type Handler struct {
	Hub *Hub
	Log zerolog.Logger
}

func NewHandler(hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{Hub: hub, Log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("realtime: upgrade failed")
		return
	}

	conn := newConn(r.RemoteAddr, ws, h.Log)

	var userID string
	if token := r.URL.Query().Get("token"); token != "" && h.Hub.Verify != nil {
		if uid, ok := h.Hub.Verify.VerifyToken(token); ok {
			userID = uid
		}
	}
	h.Hub.Register(conn, userID)

	go conn.writePump()
	conn.readPump(h.Hub)
}
