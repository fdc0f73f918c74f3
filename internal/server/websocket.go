package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HaujetZhao/SubWriter/internal/worker"
)

// handleWebSocket implements GET /ws. Every binary message is one job and is
// answered with one text message holding the transcript or an error.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.config.Server.MaxBodyBytes)
	conn.SetReadDeadline(time.Time{})

	h.logger.Info("WebSocket client connected", slog.String("remote_addr", r.RemoteAddr))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("WebSocket read failed",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()))
			}
			h.logger.Info("WebSocket client disconnected", slog.String("remote_addr", r.RemoteAddr))
			return
		}

		if messageType != websocket.BinaryMessage {
			if !h.writeWebSocket(conn, map[string]string{"error": "expected binary PCM audio message"}) {
				return
			}
			continue
		}

		message, err := h.worker.Submit(r.Context(), uuid.New(), data)
		if err != nil {
			h.logger.Error("WebSocket transcription failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("bytes", len(data)),
				slog.String("error", err.Error()))

			if !h.writeWebSocket(conn, map[string]string{"error": err.Error()}) || errors.Is(err, worker.ErrStopped) {
				return
			}
			continue
		}

		if !h.writeWebSocket(conn, message) {
			return
		}
	}
}

// writeWebSocket sends v as a JSON text message and reports success
func (h *HTTPServer) writeWebSocket(conn *websocket.Conn, v interface{}) bool {
	conn.SetWriteDeadline(time.Now().Add(h.config.Server.GetWriteTimeoutDuration()))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Warn("WebSocket write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
