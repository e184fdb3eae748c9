package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zyle0001/foundry-local-runtime/internal/eventbus"
)

const (
	websocketWriteTimeout      = 10 * time.Second
	websocketHeartbeatInterval = 30 * time.Second
)

var meterWSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://localhost" || origin == "http://127.0.0.1" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:")
	},
}

// handleMetersWS streams meter snapshots to the client as JSON messages.
// The current snapshot list is sent on connect, then live updates follow as
// they are published.
func (s *APIServer) handleMetersWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "meter feed unavailable")
		return
	}
	conn, err := meterWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[APIServer] meter websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := eventbus.Subscribe[eventbus.MeterEvent](s.bus, eventbus.TopicAudioMeters,
		eventbus.WithSubscriptionName("meters-ws"))
	defer sub.Close()

	conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
	if err := conn.WriteJSON(s.store.ListMeters()); err != nil {
		return
	}

	// Drain client frames so close and pong handling work; the feed is
	// one-directional otherwise.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(websocketHeartbeatInterval)
	defer pingTicker.Stop()

	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteJSON(env.Payload.Meter); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
