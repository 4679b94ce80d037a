package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jengzang/records-live-go/internal/middleware"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/realtime"
	"github.com/jengzang/records-live-go/pkg/response"
)

// WebSocketConfig tunes the socket transport.
type WebSocketConfig struct {
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteTimeout    time.Duration
	DisconnectGrace time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 5 * time.Second
	}
	return c
}

// WebSocketHandler upgrades authenticated requests and pumps frames
// between the socket and the realtime handler
type WebSocketHandler struct {
	hub      *realtime.Handler
	upgrader websocket.Upgrader
	cfg      WebSocketConfig
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(hub *realtime.Handler, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "ws"),
	}
}

// Serve handles GET /api/v1/ws
//
// Query parameters: deviceId names the device, encoding=cbor selects
// binary frames for server events.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	principalID := middleware.PrincipalID(c)
	if principalID == "" {
		response.Unauthorized(c, "authentication required")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Warn("websocket upgrade failed", "principal", principalID, "error", err)
		return
	}

	conn, err := h.hub.Connect(principalID, c.Query("deviceId"), realtime.CodecByName(c.Query("encoding")))
	if err != nil {
		ws.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn)
	}()

	h.readPump(c.Request.Context(), ws, conn)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.cfg.DisconnectGrace)
	h.hub.Disconnect(ctx, conn)
	cancel()
	<-writerDone
	ws.Close()
}

func (h *WebSocketHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *realtime.Connection) {
	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		frameType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "connection", conn.ID(), "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		codec := realtime.JSON
		if frameType == websocket.BinaryMessage {
			codec = realtime.CBOR
		}
		msg, err := codec.DecodeInbound(data)
		if err != nil {
			conn.Send(models.Event{Type: models.EvtError, Data: models.ErrorPayload{
				Code:    models.CodeInvalidRequest,
				Message: err.Error(),
			}})
			continue
		}
		h.hub.HandleMessage(ctx, conn, msg)
	}
}

func (h *WebSocketHandler) writePump(ws *websocket.Conn, conn *realtime.Connection) {
	pingPeriod := h.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	frameType := websocket.TextMessage
	if conn.Codec().Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case ev := <-conn.Outbox():
			data, err := conn.Codec().Encode(ev)
			if err != nil {
				h.logger.Error("failed to encode event", "type", ev.Type, "connection", conn.ID(), "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(frameType, data); err != nil {
				ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				ws.Close()
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			// unblock the read pump when the server closes first
			_ = ws.SetReadDeadline(time.Now())
			return
		}
	}
}
