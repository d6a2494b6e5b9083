package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/events"
)

const (
	watchWriteTimeout = 10 * time.Second
	watchPingInterval = 30 * time.Second

	// A slow watcher drops events once this many are queued rather
	// than stalling the bus.
	watchBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin checks don't apply here, the clients are CLIs.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatchEvents streams cluster events over a websocket, one JSON
// event per message. An optional ?type= pattern filters the stream the
// same way bus subscriptions do.
func (s *Server) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("type")
	if pattern == "" {
		pattern = "*"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch := make(chan events.Event, watchBuffer)
	cancel := s.bus.Subscribe(pattern, func(_ context.Context, event events.Event) error {
		select {
		case ch <- event:
		default:
		}
		return nil
	})
	defer cancel()

	s.logger.Info("event watch started",
		zap.String("client", clientAddr(r)),
		zap.String("pattern", pattern))

	// The read loop exists to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case event := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
