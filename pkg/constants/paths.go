package constants

// Пути health, ready, metrics и событийный WebSocket.
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"
	PathEvents  = "/ws/events"
)
