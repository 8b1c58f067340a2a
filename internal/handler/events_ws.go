package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/service"
)

// EventsWSHandler streams registry lifecycle events over WebSocket.
// Path: /ws/events
type EventsWSHandler struct {
	hub    *service.EventHub
	logger *zap.Logger
}

// NewEventsWSHandler creates the events WebSocket handler.
func NewEventsWSHandler(hub *service.EventHub, logger *zap.Logger) *EventsWSHandler {
	return &EventsWSHandler{hub: hub, logger: logger}
}

// ServeWS upgrades the request and forwards hub events until the client
// disconnects. Subscribers are read-only; inbound frames are discarded.
func (h *EventsWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client, cleanup := h.hub.Register(conn)
	defer cleanup()

	go h.writePump(client)
	h.readPump(client)
}

func (h *EventsWSHandler) readPump(client *service.EventClient) {
	defer func() {
		_ = client.Conn.Close()
	}()
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			break
		}
	}
}

func (h *EventsWSHandler) writePump(client *service.EventClient) {
	defer func() {
		_ = client.Conn.Close()
	}()
	for data := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
}
