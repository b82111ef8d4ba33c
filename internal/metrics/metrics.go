package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat server.
//
// Naming convention: namespace_subsystem_name
// - namespace: marain (application-level grouping)
// - subsystem: websocket, room, app, handshake (feature-level grouping)
// - name: specific metric (connections_active, commands_processed_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, occupancy)
// - Counter: Cumulative events (commands processed, broadcasts dropped)
// - Histogram: Latency distributions (frame processing time)

var (
	// ActiveConnections tracks the current number of live SessionWorkers.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marain",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms is the gauge for the number of rooms with at least one
	// occupant. It is registered for export, but no code path in the
	// server sets it.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marain",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one occupant",
	})

	// RoomOccupancy is the per-room occupant-count gauge. It is registered
	// for export, but no code path in the server sets it.
	RoomOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "marain",
		Subsystem: "room",
		Name:      "occupancy",
		Help:      "Number of occupants in each room",
	}, []string{"room"})

	// CommandsProcessed tracks every Command the App loop has handled.
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marain",
		Subsystem: "app",
		Name:      "commands_processed_total",
		Help:      "Total Commands processed by the App loop",
	}, []string{"command_type"})

	// FrameProcessingDuration tracks time spent decrypting and
	// deserializing an inbound frame (dispatch is not included).
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marain",
		Subsystem: "websocket",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing an inbound WebSocket frame",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	}, []string{"frame_type"})

	// BroadcastsDropped tracks Broadcasts that could not be delivered
	// because a recipient's event sink was full, closed or unsubscribed.
	BroadcastsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marain",
		Subsystem: "app",
		Name:      "broadcasts_dropped_total",
		Help:      "Total Broadcasts dropped due to a full or absent recipient sink",
	}, []string{"reason"})

	// HandshakeFailures tracks login handshakes that ended in LoginFail or
	// a timeout.
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marain",
		Subsystem: "handshake",
		Name:      "failures_total",
		Help:      "Total login handshakes that failed",
	}, []string{"reason"})
)

// IncConnection records a new live connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a connection ending.
func DecConnection() {
	ActiveConnections.Dec()
}
