package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lytecord_active_connections",
			Help: "Currently open client sessions",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lytecord_connections_total",
			Help: "Total accepted client sessions",
		},
		[]string{"transport"}, // "tls" or "websocket"
	)

	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lytecord_requests_total",
			Help: "Total handled requests",
		},
		[]string{"type", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lytecord_request_duration_seconds",
			Help:    "Handler duration per request",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"type"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lytecord_rate_limit_hits_total",
			Help: "Sessions closed for exceeding the request rate",
		},
	)

	// Pub/sub metrics
	ActivePublishers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lytecord_active_publishers",
			Help: "Channels with at least one subscriber",
		},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lytecord_broadcasts_total",
			Help: "Messages accepted into a channel buffer",
		},
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lytecord_deliveries_total",
			Help: "Messages pushed to subscribers",
		},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lytecord_relay_events_total",
			Help: "Messages exchanged with other instances",
		},
		[]string{"direction"}, // "out" or "in"
	)
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
