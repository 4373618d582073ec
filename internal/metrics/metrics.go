// Package metrics exposes Prometheus collectors for HTTP traffic, websocket sessions and
// room broadcasts.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbox_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbox_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	wsActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qbox_ws_active_sessions",
			Help: "Currently connected websocket sessions.",
		},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbox_room_broadcasts_total",
			Help: "Room events handed to the realtime hub, by event name.",
		},
		[]string{"event"},
	)

	droppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qbox_ws_dropped_deliveries_total",
			Help: "Messages dropped because a session's send buffer was full.",
		},
	)
)

// RecordHTTP records one served request.
func RecordHTTP(method, route string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, s).Inc()
	httpRequestDuration.WithLabelValues(method, route, s).Observe(duration.Seconds())
}

// SessionOpened increments the active websocket session gauge.
func SessionOpened() { wsActiveSessions.Inc() }

// SessionClosed decrements the active websocket session gauge.
func SessionClosed() { wsActiveSessions.Dec() }

// Broadcast counts one room event.
func Broadcast(event string) { broadcastsTotal.WithLabelValues(event).Inc() }

// DeliveryDropped counts one message lost to a full session buffer.
func DeliveryDropped() { droppedDeliveries.Inc() }
