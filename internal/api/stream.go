package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperengineering/tasksync/internal/notify"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SyncStream handles GET /api/v1/sync/stream. It upgrades to a websocket
// and sends a notify.Event each time a batch for the caller commits.
// Clients react by pulling; the stream carries no record data.
func (h *Handler) SyncStream(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := OwnerIDFromContext(r.Context())
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid credentials")
		return
	}

	sub, err := h.hub.Subscribe(ownerID)
	switch {
	case errors.Is(err, notify.ErrTooManySubscribers):
		WriteProblem(w, r, http.StatusTooManyRequests, "Too many open streams")
		return
	case err != nil:
		WriteProblem(w, r, http.StatusServiceUnavailable, "Stream unavailable")
		return
	}
	defer sub.Close()

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Warn("stream upgrade failed", "component", "api", "owner_id", ownerID, "error", err)
		return
	}
	defer conn.Close()

	slog.Info("stream opened", "component", "api", "action", "stream_opened", "owner_id", ownerID)
	start := time.Now()

	done := make(chan struct{})
	go readStream(conn, done)
	writeStream(conn, sub, done)

	slog.Info("stream closed",
		"component", "api",
		"action", "stream_closed",
		"owner_id", ownerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// readStream discards client frames and keeps the read deadline alive on
// pongs. It closes done when the peer goes away.
func readStream(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("stream read error", "component", "api", "error", err)
			}
			return
		}
	}
}

// writeStream forwards events and pings until the subscription ends or the
// reader reports the peer gone.
func writeStream(conn *websocket.Conn, sub *notify.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
