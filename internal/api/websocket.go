package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Connections are authorised by single-use tickets, not origin.
		return true
	},
}

// handleWebSocket upgrades an operator connection to the live feed.
// The ticket query parameter comes from POST /auth/ws-ticket and is
// consumed here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.validateTicket(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newFeedClient(entry.subject)
	s.hub.add(client)

	go writeFeed(conn, client, s.hub.cfg)
	go s.readFeed(conn, client, s.hub.cfg)
}

// readFeed applies client frames until the connection fails, then removes
// the client from the hub.
func (s *Server) readFeed(conn *websocket.Conn, client *feedClient, cfg config.WebSocketConfig) {
	defer func() {
		s.hub.remove(client)
		conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // deadline errors surface on the next read
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("live feed read failed", "subject", client.subject, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // deadline errors surface on the next read
		conn.SetReadDeadline(time.Now().Add(idle))
		client.handleFrame(raw)
	}
}

// writeFeed drains the client queue onto the connection and keeps it alive
// with pings. It returns when the queue is closed or a write fails.
func writeFeed(conn *websocket.Conn, client *feedClient, cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case frame, ok := <-client.queue:
			//nolint:errcheck // write error caught below
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // connection is going away regardless
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write error caught below
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
