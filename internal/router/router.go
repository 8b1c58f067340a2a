package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/stream-registry-service/internal/handler"
	"github.com/psds-microservice/stream-registry-service/pkg/constants"
)

// New builds the HTTP router. Route paths are fixed for compatibility with
// existing platform clients.
func New(
	streamHandler *handler.StreamHandler,
	sessionHandler *handler.SessionHandler,
	eventsWS *handler.EventsWSHandler,
	health *handler.HealthHandler,
	metricsHandler http.Handler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)
	if metricsHandler != nil {
		r.GET(constants.PathMetrics, gin.WrapH(metricsHandler))
	}

	streams := r.Group("/streams")
	{
		streams.GET("/types", streamHandler.ListTypes)
		streams.POST("/types", streamHandler.CreateType)
		streams.GET("", streamHandler.ListStreams)
		streams.POST("/advertise", streamHandler.Advertise)
		streams.GET("/state", streamHandler.State)
		streams.GET("/:id", streamHandler.GetStream)
		streams.DELETE("/:id", streamHandler.Withdraw)
		streams.POST("/:id/heartbeat", streamHandler.Heartbeat)
		streams.POST("/:id/request", streamHandler.RequestStream)

		streams.GET("/sessions", sessionHandler.ListSessions)
		streams.GET("/sessions/history", sessionHandler.ListHistory)
		streams.DELETE("/sessions/:id", sessionHandler.StopSession)
		streams.POST("/sessions/:id/heartbeat", sessionHandler.HeartbeatSession)
	}

	// WebSocket: registry lifecycle events for dashboards.
	if eventsWS != nil {
		r.GET(constants.PathEvents, eventsWS.ServeWS)
	}

	return r
}
