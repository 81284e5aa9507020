package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the signaling server.
// A nil *Metrics is valid and records nothing, so components can take one
// optionally (tests pass nil).
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	connections       prometheus.Gauge
	registeredSources prometheus.Gauge
	relayedTotal      *prometheus.CounterVec
	routeFailures     *prometheus.CounterVec
	droppedTotal      prometheus.Counter
	feedEventsTotal   prometheus.Counter
	targetChanges     prometheus.Counter
	registrations     *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscam_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscam_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obscam_signal_connections",
			Help: "Number of open signaling connections",
		}),
		registeredSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obscam_registered_sources",
			Help: "Number of live source registrations",
		}),
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obscam_relayed_messages_total",
			Help: "Negotiation messages relayed, by message type",
		}, []string{"type"}),
		routeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obscam_route_failures_total",
			Help: "Negotiation messages that could not be routed, by message type",
		}, []string{"type"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscam_dropped_messages_total",
			Help: "Outbound messages dropped because a connection queue was full",
		}),
		feedEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscam_feed_events_total",
			Help: "External feed payloads accepted",
		}),
		targetChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscam_target_changes_total",
			Help: "Spectate target changes broadcast to viewers",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obscam_registrations_total",
			Help: "Source registration attempts, by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.connections,
		m.registeredSources,
		m.relayedTotal,
		m.routeFailures,
		m.droppedTotal,
		m.feedEventsTotal,
		m.targetChanges,
		m.registrations,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SetRegisteredSources sets the registered sources gauge.
func (m *Metrics) SetRegisteredSources(n int) {
	if m == nil {
		return
	}
	m.registeredSources.Set(float64(n))
}

func (m *Metrics) IncRelayed(msgType string) {
	if m == nil {
		return
	}
	m.relayedTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncRouteFailure(msgType string) {
	if m == nil {
		return
	}
	m.routeFailures.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *Metrics) IncFeedEvents() {
	if m == nil {
		return
	}
	m.feedEventsTotal.Inc()
}

func (m *Metrics) IncTargetChanges() {
	if m == nil {
		return
	}
	m.targetChanges.Inc()
}

// IncRegistrations counts a registration attempt under result ("ok", "name-taken", ...).
func (m *Metrics) IncRegistrations(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
