package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics.
var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecall_signaling_requests_total",
			Help: "Signaling API requests by operation and outcome code",
		},
		[]string{"op", "code"},
	)
	candidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telecall_candidates_relayed_total",
			Help: "Candidates appended to mailboxes",
		},
	)
	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telecall_candidates_rate_limited_total",
			Help: "Candidate appends refused by the rate limiter",
		},
	)
	watchConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telecall_watch_connections",
			Help: "Open websocket watch connections",
		},
	)
	pushesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telecall_watch_backpressure_total",
			Help: "Watch connections closed because the client fell behind",
		},
	)
)
