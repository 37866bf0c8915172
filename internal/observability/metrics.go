package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bus_tracker", Name: "connections_active", Help: "Currently open websocket connections"})
	DriversActive     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bus_tracker", Name: "drivers_active", Help: "Currently registered drivers"})

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bus_tracker", Name: "messages_received_total", Help: "Inbound websocket messages by type"},
		[]string{"type"},
	)
	MessagesInvalid = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bus_tracker", Name: "messages_invalid_total", Help: "Inbound messages rejected as malformed or role-invalid"})

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bus_tracker", Name: "events_sent_total", Help: "Outbound events by type"},
		[]string{"type"},
	)
	DriversEvicted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bus_tracker", Name: "drivers_evicted_total", Help: "Drivers removed by the liveness sweep"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bus_tracker", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bus_tracker",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
