package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Board WebSocket metrics
	BoardConnections prometheus.Gauge
	BoardMessages    *prometheus.CounterVec

	// Sync operation metrics
	SyncOperations     *prometheus.CounterVec
	PersistenceLatency prometheus.Histogram
	OrderingRebalances prometheus.Counter

	// Presence channel metrics
	PresenceEvents   *prometheus.CounterVec
	PresenceEvicted  prometheus.Counter
	ArchivedTasks    prometheus.Counter

	// Connection manager reference for dynamic metrics
	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		connManager: connManager,

		// Board connections (gauge - can go up and down)
		BoardConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flowboard_board_connections_active",
			Help: "Number of active board WebSocket connections",
		}),

		// Board messages by type (counter - only goes up)
		BoardMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_board_messages_total",
			Help: "Total number of board WebSocket messages by type",
		}, []string{"type", "direction"}), // direction: "inbound" or "outbound"

		// Sync operations by intent type and outcome
		SyncOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_sync_operations_total",
			Help: "Total number of board sync operations by type and result",
		}, []string{"type", "result"}), // result: "ok" or the error kind

		// Remote persistence latency histogram
		PersistenceLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowboard_persistence_duration_seconds",
			Help:    "Remote store write latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		// Rebalances triggered by exhausted order-key precision
		OrderingRebalances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowboard_ordering_rebalances_total",
			Help: "Total number of order-key rebalances",
		}),

		// Presence broadcasts by kind
		PresenceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_presence_events_total",
			Help: "Total number of presence events by kind",
		}, []string{"kind"}), // "cursor", "leave", "evict"

		PresenceEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowboard_presence_evictions_total",
			Help: "Total presence records evicted by the inactivity window",
		}),

		ArchivedTasks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowboard_archived_tasks_total",
			Help: "Total tasks archived by the auto-archive sweep",
		}),
	}

	// Register a collector that reads live connection counts from the manager
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowboard_board_connections_current",
			Help: "Current number of active board connections (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowboard_open_boards_current",
			Help: "Current number of projects with at least one open board",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.ProjectCount())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordBoardConnect records a new board connection
func (m *Metrics) RecordBoardConnect() {
	m.BoardConnections.Inc()
}

// RecordBoardDisconnect records a board disconnection
func (m *Metrics) RecordBoardDisconnect() {
	m.BoardConnections.Dec()
}

// RecordBoardMessage records a board WebSocket message
func (m *Metrics) RecordBoardMessage(msgType, direction string) {
	m.BoardMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordSyncOperation records a board sync operation outcome
func (m *Metrics) RecordSyncOperation(opType, result string) {
	m.SyncOperations.WithLabelValues(opType, result).Inc()
}

// RecordPersistenceLatency records a remote write duration
func (m *Metrics) RecordPersistenceLatency(seconds float64) {
	m.PersistenceLatency.Observe(seconds)
}

// RecordRebalance records an order-key rebalance
func (m *Metrics) RecordRebalance() {
	m.OrderingRebalances.Inc()
}

// RecordPresenceEvent records a presence broadcast
func (m *Metrics) RecordPresenceEvent(kind string) {
	m.PresenceEvents.WithLabelValues(kind).Inc()
}
