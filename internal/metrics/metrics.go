package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_messages_posted_total",
			Help: "Total messages accepted into a room history",
		},
		[]string{"source"}, // "http" or "ws"
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_messages_rejected_total",
			Help: "Total messages rejected before storage",
		},
		[]string{"reason"}, // "validation", "rate_limited", "room_not_found"
	)

	// Broadcast metrics: one delivered/skipped outcome per send attempt
	BroadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_broadcast_delivered_total",
			Help: "Total broadcast frames delivered to subscribers",
		},
	)

	BroadcastSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_broadcast_skipped_total",
			Help: "Total broadcast frames skipped for unwritable subscribers",
		},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_ws_connections_active",
			Help: "Currently subscribed WebSocket connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"tier"},
	)

	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_rate_limit_store_errors_total",
			Help: "Counter store failures answered fail-open",
		},
	)

	BlockedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_blocked_requests_total",
			Help: "Total requests rejected from blocked IPs",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ember_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
