package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream registry.
type Metrics struct {
	registry            *prometheus.Registry
	advertisementsTotal prometheus.Counter
	heartbeatsTotal     prometheus.Counter
	withdrawalsTotal    prometheus.Counter
	negotiationsTotal   *prometheus.CounterVec
	sessionsStarted     prometheus.Counter
	sessionsEnded       prometheus.Counter
	liveStreams         prometheus.Gauge
	liveSessions        prometheus.Gauge
}

// Negotiation outcome labels.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeNotFound = "not_found"
)

// New creates and registers the registry metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	advertisementsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_advertisements_total",
		Help: "Total stream advertisements accepted",
	})
	heartbeatsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_heartbeats_total",
		Help: "Total stream and session heartbeats",
	})
	withdrawalsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_withdrawals_total",
		Help: "Total stream withdrawals",
	})
	negotiationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_negotiations_total",
		Help: "Total stream negotiations by outcome",
	}, []string{"outcome"})
	sessionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_sessions_started_total",
		Help: "Total sessions created by successful negotiations",
	})
	sessionsEnded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_sessions_ended_total",
		Help: "Total sessions stopped or expired",
	})
	liveStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_live_streams",
		Help: "Advertisements currently considered live",
	})
	liveSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_live_sessions",
		Help: "Sessions currently considered live",
	})

	registry.MustRegister(
		advertisementsTotal,
		heartbeatsTotal,
		withdrawalsTotal,
		negotiationsTotal,
		sessionsStarted,
		sessionsEnded,
		liveStreams,
		liveSessions,
	)

	return &Metrics{
		registry:            registry,
		advertisementsTotal: advertisementsTotal,
		heartbeatsTotal:     heartbeatsTotal,
		withdrawalsTotal:    withdrawalsTotal,
		negotiationsTotal:   negotiationsTotal,
		sessionsStarted:     sessionsStarted,
		sessionsEnded:       sessionsEnded,
		liveStreams:         liveStreams,
		liveSessions:        liveSessions,
	}
}

// IncAdvertisements increments the advertisement counter.
func (m *Metrics) IncAdvertisements() { m.advertisementsTotal.Inc() }

// IncHeartbeats increments the heartbeat counter.
func (m *Metrics) IncHeartbeats() { m.heartbeatsTotal.Inc() }

// IncWithdrawals increments the withdrawal counter.
func (m *Metrics) IncWithdrawals() { m.withdrawalsTotal.Inc() }

// IncNegotiations increments the negotiation counter for an outcome.
func (m *Metrics) IncNegotiations(outcome string) {
	m.negotiationsTotal.WithLabelValues(outcome).Inc()
}

// IncSessionsStarted increments the sessions started counter.
func (m *Metrics) IncSessionsStarted() { m.sessionsStarted.Inc() }

// IncSessionsEnded increments the sessions ended counter.
func (m *Metrics) IncSessionsEnded() { m.sessionsEnded.Inc() }

// SetLive sets the live stream and session gauges.
func (m *Metrics) SetLive(streams, sessions int) {
	m.liveStreams.Set(float64(streams))
	m.liveSessions.Set(float64(sessions))
}

// Handler serves the metrics endpoint. updateGauges is called before each
// scrape to refresh the live gauges from the presence store.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
