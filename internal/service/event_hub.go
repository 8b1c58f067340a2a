package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/model"
)

// Registry event types pushed to /ws/events subscribers.
const (
	EventStreamAdvertised = "stream.advertised"
	EventStreamWithdrawn  = "stream.withdrawn"
	EventStreamExpired    = "stream.expired"
	EventSessionStarted   = "session.started"
	EventSessionEnded     = "session.ended"
)

// Event is one registry lifecycle notification.
type Event struct {
	Type    string               `json:"type"`
	Time    time.Time            `json:"time"`
	Stream  *model.Advertisement `json:"stream,omitempty"`
	Session *model.Session       `json:"session,omitempty"`
}

// EventClient is one connected dashboard subscriber.
type EventClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// EventHub fans registry lifecycle events out to WebSocket subscribers.
// Slow consumers are dropped rather than allowed to block a broadcast.
// All methods are safe on a nil hub (events disabled).
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*EventClient]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewEventHub creates an empty event hub.
func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*EventClient]struct{}),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
	}
}

// Upgrader returns the WebSocket upgrader for the events endpoint.
func (h *EventHub) Upgrader() *websocket.Upgrader { return &h.upgrader }

// Register adds a subscriber and returns it with a cleanup function.
func (h *EventHub) Register(conn *websocket.Conn) (*EventClient, func()) {
	c := &EventClient{
		Conn: conn,
		Send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("event subscriber connected", zap.Int("subscribers", h.count()))
	return c, func() {
		h.unregister(c)
	}
}

func (h *EventHub) unregister(c *EventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.Send)
	}
	h.mu.Unlock()
}

func (h *EventHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastStream publishes a stream lifecycle event.
func (h *EventHub) BroadcastStream(eventType string, ad *model.Advertisement) {
	if h == nil {
		return
	}
	h.broadcast(Event{Type: eventType, Time: time.Now().UTC(), Stream: ad})
}

// BroadcastSession publishes a session lifecycle event.
func (h *EventHub) BroadcastSession(eventType string, s *model.Session) {
	if h == nil {
		return
	}
	h.broadcast(Event{Type: eventType, Time: time.Now().UTC(), Session: s})
}

func (h *EventHub) broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Warn("event marshal failed", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	h.mu.RLock()
	var slow []*EventClient
	for c := range h.clients {
		select {
		case c.Send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("dropping slow event subscriber")
		h.unregister(c)
		_ = c.Conn.Close()
	}
}
