// Package metrics provides Prometheus instrumentation for the chat gateway.
// It exposes gauges for live connections, counters for frame and message
// throughput, and histograms for persistence latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// AuthenticatedConnections tracks connections that completed the auth
	// handshake and are registered.
	AuthenticatedConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_authenticated_connections",
		Help: "Current number of authenticated connections",
	})

	// FramesTotal counts inbound frames labeled by frame type. Frames that
	// fail to parse are counted under "invalid".
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_total",
		Help: "Total number of inbound frames processed",
	}, []string{"type"})

	// MessagesTotal counts persisted messages labeled by kind: "direct" or
	// "group".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_total",
		Help: "Total number of persisted chat messages",
	}, []string{"kind"})

	// FanoutPushes counts frames pushed to live connections by the fan-out
	// engine, labeled by result: "delivered" or "dropped".
	FanoutPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_fanout_pushes_total",
		Help: "Total number of fan-out pushes to live connections",
	}, []string{"result"})

	// AuthFailures counts rejected auth frames.
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_auth_failures_total",
		Help: "Total number of rejected auth attempts",
	})

	// HeartbeatEvictions counts connections closed for missing a pong.
	HeartbeatEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_heartbeat_evictions_total",
		Help: "Total number of connections evicted by the liveness monitor",
	})

	// RateLimited counts frames rejected by the send rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Total number of frames rejected by rate limiting",
	})

	// PersistLatency records how long the message store takes to persist a
	// message, in seconds.
	PersistLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_persist_latency_seconds",
		Help:    "Message persistence latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		AuthenticatedConnections,
		FramesTotal,
		MessagesTotal,
		FanoutPushes,
		AuthFailures,
		HeartbeatEvictions,
		RateLimited,
		PersistLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
