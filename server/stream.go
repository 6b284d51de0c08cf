package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitwit/paycore/types"
)

// handleStream upgrades to a websocket and forwards every event committed
// after the upgrade as a JSON text message. Slow clients lose events rather
// than stall the engine.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]any{"error": err})
		return
	}
	defer conn.Close()

	kind := types.EventKind(r.URL.Query().Get("kind"))
	ch := make(chan types.Event, streamBuffer)
	unsubscribe := s.engine.Subscribe(func(ev types.Event) {
		if kind != "" && ev.Kind != kind {
			return
		}
		select {
		case ch <- ev:
		default:
			s.log.Warn("dropping event for slow stream client", map[string]any{
				"event":  string(ev.Kind),
				"id":     ev.ID,
				"remote": r.RemoteAddr,
			})
		}
	})
	defer unsubscribe()

	// The read loop only services control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	s.log.Debug("stream client connected", map[string]any{"remote": r.RemoteAddr, "kind": string(kind)})
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("stream write failed", map[string]any{"error": err})
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
