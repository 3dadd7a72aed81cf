package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waveworm/pfsense-toggle/internal/events"
)

const (
	wsEventBuffer = 64
	wsWriteWait   = 10 * time.Second
	wsPingPeriod  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mitigation: OWASP A01:2021-Broken Access Control (Cross-Site WebSocket Hijacking)
	// Enforce same-origin policy for WebSocket upgrades
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No origin header (safe)
			return true
		}

		// Allow localhost for development/proxying
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}

		// Strict same-origin check for others
		host := r.Host
		if len(origin) > 7 && origin[:7] == "http://" {
			return origin[7:] == host
		}
		if len(origin) > 8 && origin[:8] == "https://" {
			return origin[8:] == host
		}
		return false
	},
}

// handleEvents upgrades the connection and streams hub events as JSON.
// A comma-separated types query parameter narrows the stream; without
// it the client receives every event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var types []events.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("websocket upgrade failed", "ip", getClientIP(r), "error", err)
		return
	}

	hub := s.engine.Hub()
	ch := hub.Subscribe(wsEventBuffer, types...)
	defer hub.Unsubscribe(ch)
	defer conn.Close()

	s.logger.Debug("event stream opened", "ip", getClientIP(r), "types", len(types))

	// The read pump discards client messages; it exists to notice the
	// peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Upgrade hijacked the connection, so the server's WriteTimeout no
	// longer applies; per-message deadlines stand in for it.
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
