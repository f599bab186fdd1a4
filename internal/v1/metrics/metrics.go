package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat fabric.
// Declared in one package to keep collectors close to the packages that
// drive them without coupling those packages to each other.
//
// Naming convention: namespace_subsystem_name
// - namespace: quanta_chat (application-level grouping)
// - subsystem: websocket, broadcast, store, bus (feature-level grouping)
// - name: specific metric (active_connections, frames_received_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, circuit state)
// - Counter: Cumulative events (frames, persisted messages, failures)
// - Histogram: Latency distributions (pipeline duration, query duration)

var (
	// ActiveConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	// ConnectionsByRoom tracks the number of joined connections per room (GaugeVec with room label)
	// Using Gauge instead of Histogram because we want the current count per room,
	// not a distribution of historical counts
	ConnectionsByRoom = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "connections_by_room",
		Help:      "Number of joined connections in each room",
	}, []string{"room"})

	// FramesReceived tracks the total number of frames read off client sockets (CounterVec - cumulative)
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "frames_received_total",
		Help:      "Total frames received from clients",
	}, []string{"type"})

	// FramesDropped tracks frames discarded before dispatch completed (CounterVec - cumulative)
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "frames_dropped_total",
		Help:      "Total frames dropped before delivery",
	}, []string{"reason"})

	// SendBufferDrops counts outbound messages discarded because a client send buffer was full (Counter - cumulative)
	SendBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "send_buffer_drops_total",
		Help:      "Total outbound messages dropped due to a full client send buffer",
	})

	// ConnectionDuration tracks how long connections stay open (Histogram - duration distribution)
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quanta_chat",
		Subsystem: "websocket",
		Name:      "connection_duration_seconds",
		Help:      "Lifetime of WebSocket connections",
		Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400},
	})

	// MessagesPersisted counts chat messages written through the broadcast pipeline (Counter - cumulative)
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "broadcast",
		Name:      "messages_persisted_total",
		Help:      "Total chat messages persisted by the broadcast pipeline",
	})

	// MessagesBlocked counts chat messages silently dropped because the sender is blocked (Counter - cumulative)
	MessagesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "broadcast",
		Name:      "messages_blocked_total",
		Help:      "Total chat messages dropped from blocked senders",
	})

	// SignatureFailures counts frames rejected for a bad or missing signature (Counter - cumulative)
	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "broadcast",
		Name:      "signature_failures_total",
		Help:      "Total frames rejected due to signature verification failure",
	})

	// PipelineDuration tracks end-to-end broadcast pipeline latency (Histogram - latency distribution)
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quanta_chat",
		Subsystem: "broadcast",
		Name:      "pipeline_duration_seconds",
		Help:      "Time from broadcast receipt to fan-out completion",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// StoreQueryDuration tracks store operation latency by operation name (HistogramVec - latency distribution)
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quanta_chat",
		Subsystem: "store",
		Name:      "query_duration_seconds",
		Help:      "Time spent executing store operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})

	// BusPublishFailures counts failed publishes to the Redis bus (Counter - cumulative)
	BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quanta_chat",
		Subsystem: "bus",
		Name:      "publish_failures_total",
		Help:      "Total failed publishes to the message bus",
	})

	// BusCircuitState exposes the bus circuit breaker state (Gauge: 0=closed, 1=half-open, 2=open)
	BusCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quanta_chat",
		Subsystem: "bus",
		Name:      "circuit_state",
		Help:      "Message bus circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
