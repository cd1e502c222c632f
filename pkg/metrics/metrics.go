// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsAppended tracks events durably appended to the log.
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_appended_total",
			Help: "Events appended to the activity log",
		},
		[]string{"type"},
	)

	// EventsRejected tracks candidate events rejected at validation.
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_rejected_total",
			Help: "Candidate events rejected before persistence",
		},
		[]string{"reason"},
	)

	// QueryDuration tracks event store range query duration.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_query_duration_seconds",
			Help:    "Event store range query duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// WSConnectionsActive tracks active websocket subscriber connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_ws_connections_active",
			Help: "Number of active websocket subscriber connections",
		},
	)

	// BroadcastDelivered tracks events handed to matching observers.
	BroadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_broadcast_delivered_total",
			Help: "Events delivered to matching subscriptions",
		},
	)

	// BroadcastDropped tracks deliveries dropped because an observer
	// could not keep up.
	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_broadcast_dropped_total",
			Help: "Deliveries dropped due to slow observers",
		},
	)

	// StubReplies tracks fabricated agent replies emitted by the stub
	// responder.
	StubReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_stub_replies_total",
			Help: "Stub agent replies emitted",
		},
		[]string{"agent_id"},
	)

	// BusPublishErrors tracks failed publishes to the event bus mirror.
	BusPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_bus_publish_errors_total",
			Help: "Failed publishes to the event bus mirror",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementWSConnections increments the active websocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active websocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
