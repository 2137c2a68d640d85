package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket handles GET /ws: upgrades the connection and hands it to the
// relay. All protocol handling happens on the relay's pumps from here on.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.relay.Attach(conn)
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
