// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store
	LocationWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locshare_location_writes_total",
			Help: "Location rows written, by operation (upsert_insert, upsert_update, marker, delete)",
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locshare_store_errors_total",
			Help: "Failed store calls, by operation",
		},
		[]string{"operation"},
	)

	// Change feed
	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locshare_feed_events_total",
			Help: "Row change events published to the feed bus, by source and type",
		},
		[]string{"source", "type"},
	)

	FeedPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locshare_feed_publish_failures_total",
			Help: "Events dropped because the bus rejected them or the breaker was open",
		},
	)

	FeedBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locshare_feed_breaker_state",
			Help: "Feed publish circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Propagation
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locshare_active_subscriptions",
			Help: "Observers currently receiving room events",
		},
	)

	ActiveRoomChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locshare_active_room_channels",
			Help: "Rooms with an open feed subscription",
		},
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locshare_events_delivered_total",
			Help: "Row change events handed to observers",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locshare_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locshare_websocket_messages_dropped_total",
			Help: "Outbound messages dropped because a client send buffer was full",
		},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locshare_api_requests_total",
			Help: "HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locshare_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locshare_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// RecordLocationWrite counts one successful location write.
func RecordLocationWrite(operation string) {
	LocationWrites.WithLabelValues(operation).Inc()
}

// RecordStoreError counts one failed store call.
func RecordStoreError(operation string) {
	StoreErrors.WithLabelValues(operation).Inc()
}

func RecordFeedEvent(source, eventType string) {
	FeedEvents.WithLabelValues(source, eventType).Inc()
}

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
