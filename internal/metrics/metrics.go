package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtc_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtc_connections_active",
			Help: "Live WebSocket connections",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_events_received_total",
			Help: "Total client events received",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_events_dropped_total",
			Help: "Total client events dropped",
		},
		[]string{"reason"}, // "malformed", "identity_mismatch", "unknown_event"
	)

	MessagesFannedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtc_messages_fanned_out_total",
			Help: "Total messages delivered through room fan-out",
		},
	)

	FanoutFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtc_fanout_failures_total",
			Help: "Total per-connection delivery failures during fan-out",
		},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_signals_relayed_total",
			Help: "Total WebRTC signaling payloads relayed",
		},
		[]string{"kind"}, // "offer", "answer", "iceCandidate"
	)

	CallsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_calls_terminated_total",
			Help: "Total calls by terminal status",
		},
		[]string{"status"}, // "answered", "missed", "rejected", "cancelled"
	)

	CallsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtc_calls_failed_total",
			Help: "Total call attempts to unreachable receivers",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtc_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtc_store_latency_seconds",
			Help:    "Durable store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rtc_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
