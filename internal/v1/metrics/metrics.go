package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the SFU signaling control plane.
//
// Naming convention: namespace_subsystem_name
// - namespace: sfu (application-level grouping)
// - subsystem: websocket, room, media (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, producers, consumers)
// - Counter: cumulative events (verbs processed, reaped transports, drops)
// - Histogram: latency distributions (verb processing time)

var (
	// ActiveConnections tracks the current number of signaling WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active signaling connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// ActiveTransports tracks registered WebRTC transports by direction.
	ActiveTransports = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "media",
		Name:      "transports_active",
		Help:      "Current number of registered transports",
	}, []string{"direction"})

	// ActiveProducers tracks registered producers by source.
	ActiveProducers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "media",
		Name:      "producers_active",
		Help:      "Current number of registered producers",
	}, []string{"source"})

	// ActiveConsumers tracks registered consumers.
	ActiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Subsystem: "media",
		Name:      "consumers_active",
		Help:      "Current number of registered consumers",
	})

	// SignalingEvents tracks the total number of signaling verbs processed.
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total signaling verbs processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing signaling verbs.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing signaling verbs",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// DroppedBroadcasts counts per-peer broadcast deliveries that were
	// dropped because the peer's send buffer was full.
	DroppedBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "room",
		Name:      "broadcast_drops_total",
		Help:      "Broadcast deliveries dropped due to a full peer buffer",
	})

	// RateLimitExceeded tracks requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Connections rejected by the rate limiter",
	}, []string{"limit_type"})

	// ReapedTransports counts transports closed by the unconnected-transport reaper.
	ReapedTransports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sfu",
		Subsystem: "media",
		Name:      "transports_reaped_total",
		Help:      "Transports closed because they never connected",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
