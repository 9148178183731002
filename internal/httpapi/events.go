package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
)

// handleEventsWS streams the user's refresh events until either side closes.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "refresh hub not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe(userID)
	defer unsubscribe()
	s.observeSession("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Closing the connection unblocks ReadMessage once the writer gives up.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	replies := make(chan any, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					cancel()
					return
				}
				msg = evt
			case msg = <-replies:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
				cancel()
				return
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		if _, err := protocol.ParseClientMessage(data); err != nil {
			select {
			case replies <- protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_client_message", Detail: err.Error()}:
			default:
				// Keep websocket writes single-threaded; drop if the reply queue is saturated.
			}
		}
	}

	cancel()
	<-writerDone
	s.observeSession("ws_disconnected")
}
