package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi", Name: "orders_created_total", Help: "Orders created by tariff"},
		[]string{"tariff"},
	)
	// AcceptAttempts counts accept calls by outcome: won, already_taken, not_available, rejected.
	AcceptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi", Name: "accept_attempts_total", Help: "Accept attempts by outcome"},
		[]string{"result"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi", Name: "order_transitions_total", Help: "Applied order lifecycle events"},
		[]string{"event"},
	)
	AcceptLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "taxi", Name: "accept_latency_seconds", Help: "Accept latency seconds"})
	DriverToggles   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "taxi", Name: "driver_status_changes_total", Help: "Driver status toggles"}, []string{"status"})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "taxi", Name: "events_published_total", Help: "Published events by result"}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
