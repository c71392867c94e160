// Package metrics holds the prometheus collectors of the realtime core and
// the Redis relay. Collectors register on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// RealtimeConnections tracks live websocket connections in this process.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_realtime_connections",
			Help: "Number of live realtime connections",
		},
	)

	// RealtimeBoards tracks boards with at least one subscriber.
	RealtimeBoards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_realtime_subscribed_boards",
			Help: "Number of boards with at least one subscribed connection",
		},
	)

	// RealtimeEvictions counts evicted connections by reason.
	RealtimeEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_realtime_evictions_total",
			Help: "Connections removed from the registry by reason",
		},
		[]string{"reason"},
	)
)

// Broadcast metrics
var (
	// EventsPublished counts change events handed to the broadcaster.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_events_published_total",
			Help: "Change events fanned out by kind and scope (board/global)",
		},
		[]string{"kind", "scope"},
	)

	// Deliveries counts per-connection enqueue results.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_deliveries_total",
			Help: "Per-connection delivery attempts by result",
		},
		[]string{"result"},
	)

	// FanoutTargets observes how many connections one publish reached.
	FanoutTargets = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_fanout_targets",
			Help:    "Number of target connections per publish",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	// WriteDuration observes websocket frame write latency in seconds.
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_write_duration_seconds",
			Help:    "Duration of a single websocket frame write",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1, 5},
		},
	)
)

// Heartbeat metrics
var (
	// HeartbeatSuspect tracks connections that missed at least one ping cycle.
	HeartbeatSuspect = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_heartbeat_suspect_connections",
			Help: "Connections that missed at least one heartbeat cycle",
		},
	)

	// HeartbeatSweeps counts supervisor sweeps.
	HeartbeatSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_heartbeat_sweeps_total",
			Help: "Heartbeat supervisor sweeps",
		},
	)
)

// Relay metrics
var (
	// RelayMessages counts relay traffic by direction (out/in) and status.
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_relay_messages_total",
			Help: "Change events relayed through Redis by direction and status",
		},
		[]string{"direction", "status"},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boardsync_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
