package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/service"
)

// SessionHandler handles the live session and history REST surface.
type SessionHandler struct {
	registry *service.Registry
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(registry *service.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// ListSessions godoc
// GET /streams/sessions?stream_id=
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.registry.ListSessions(c.Query("stream_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ListHistory godoc
// GET /streams/sessions/history?stream_id=&publisher_id=&consumer_id=&status=&limit=
func (h *SessionHandler) ListHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := h.registry.ListHistory(model.HistoryFilter{
		StreamID:    c.Query("stream_id"),
		PublisherID: c.Query("publisher_id"),
		ConsumerID:  c.Query("consumer_id"),
		Status:      c.Query("status"),
		Limit:       limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

// StopSession godoc
// DELETE /streams/sessions/:id — optional body {"reason": "...", "failed": true}.
func (h *SessionHandler) StopSession(c *gin.Context) {
	var reason model.StopReason
	if err := c.ShouldBindJSON(&reason); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	if err := h.registry.StopSession(c.Param("id"), reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HeartbeatSession godoc
// POST /streams/sessions/:id/heartbeat — 404 once the session has expired.
func (h *SessionHandler) HeartbeatSession(c *gin.Context) {
	if err := h.registry.HeartbeatSession(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
