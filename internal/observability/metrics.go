package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the realtime hub and the
// federation ingest path.
type Metrics struct {
	registry *prometheus.Registry

	OnlineSessions     prometheus.Gauge
	BusPublishes       *prometheus.CounterVec
	DroppedSubscribers prometheus.Counter
	WSMessagesIn       *prometheus.CounterVec
	FederatedMessages  prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paracord_online_sessions",
			Help: "Number of live WebSocket sessions.",
		}),
		BusPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paracord_bus_publishes_total",
			Help: "Messages published onto channel buses.",
		}, []string{"scope"}),
		DroppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paracord_bus_dropped_subscribers_total",
			Help: "Subscribers dropped for falling behind the bus.",
		}),
		WSMessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paracord_ws_client_messages_total",
			Help: "Client frames received, by type.",
		}, []string{"type"}),
		FederatedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paracord_federated_messages_total",
			Help: "Messages accepted from federation peers.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paracord_http_requests_total",
			Help: "HTTP requests, by method and status.",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paracord_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	registry.MustRegister(
		m.OnlineSessions,
		m.BusPublishes,
		m.DroppedSubscribers,
		m.WSMessagesIn,
		m.FederatedMessages,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
