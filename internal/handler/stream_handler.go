package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/service"
)

// StreamHandler handles the discovery and negotiation REST surface.
type StreamHandler struct {
	registry *service.Registry
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(registry *service.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

// ListTypes godoc
// GET /streams/types
func (h *StreamHandler) ListTypes(c *gin.Context) {
	types, err := h.registry.ListTypes()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": types})
}

// CreateType godoc
// POST /streams/types
func (h *StreamHandler) CreateType(c *gin.Context) {
	var req model.CreateStreamTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	t, err := h.registry.CreateType(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ListStreams godoc
// GET /streams?stream_type=
func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams, err := h.registry.ListStreams(c.Query("stream_type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"streams": streams})
}

// GetStream godoc
// GET /streams/:id — 404 once the advertisement is expired or missing.
func (h *StreamHandler) GetStream(c *gin.Context) {
	ad, err := h.registry.GetStream(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ad)
}

// Advertise godoc
// POST /streams/advertise
func (h *StreamHandler) Advertise(c *gin.Context) {
	var req model.AdvertiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	ad, err := h.registry.Advertise(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ad)
}

// Withdraw godoc
// DELETE /streams/:id — cascades to every session on the stream.
func (h *StreamHandler) Withdraw(c *gin.Context) {
	if err := h.registry.Withdraw(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Heartbeat godoc
// POST /streams/:id/heartbeat — 404 once the advertisement has expired.
func (h *StreamHandler) Heartbeat(c *gin.Context) {
	if err := h.registry.Heartbeat(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RequestStream godoc
// POST /streams/:id/request — blocks up to the negotiation timeout.
func (h *StreamHandler) RequestStream(c *gin.Context) {
	var consumer model.ConsumerDescriptor
	if err := c.ShouldBindJSON(&consumer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	offer, err := h.registry.RequestStream(c.Request.Context(), c.Param("id"), consumer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// State godoc
// GET /streams/state — full snapshot: streams + sessions + types.
func (h *StreamHandler) State(c *gin.Context) {
	snapshot, err := h.registry.State()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
