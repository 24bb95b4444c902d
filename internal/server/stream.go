package server

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"guardrails/internal/engine/auth"
	"guardrails/internal/notify"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamReady is the first frame on every stream; events published after it
// are delivered.
const StreamReady = "stream_ready"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// registerStream serves notification events over a websocket. ?types= takes a
// comma separated event type filter.
func registerStream(r chi.Router, basePath string, hub *notify.Hub, logger *slog.Logger) {
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		principal, err := requirePermission(req.Context(), auth.PermValidationRead)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		var types []string
		if raw := req.URL.Query().Get("types"); raw != "" {
			types = strings.Split(raw, ",")
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn("stream upgrade failed", "err", err)
			return
		}
		sub := hub.Subscribe(types...)
		logger.Info("stream attached", "actor_id", principal.ActorID, "types", types)
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(notify.Event{Type: StreamReady, Timestamp: time.Now().UTC().Format(time.RFC3339), Payload: map[string]any{"types": types}}); err != nil {
			sub.Close()
			conn.Close()
			return
		}
		go streamReader(conn, sub)
		streamWriter(conn, sub, logger)
	})
}

// streamReader discards client frames and closes the subscription when the
// peer goes away.
func streamReader(conn *websocket.Conn, sub *notify.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func streamWriter(conn *websocket.Conn, sub *notify.Subscription, logger *slog.Logger) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case ev, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
