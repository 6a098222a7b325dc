package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors the editor session and relay update.
type Metrics struct {
	LocalOps         prometheus.Counter
	HistorySignals   *prometheus.CounterVec
	RemoteUpdates    prometheus.Counter
	SnapshotsWritten prometheus.Counter
	SnapshotFailures prometheus.Counter
	Connected        prometheus.Gauge
	RelayedMessages  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LocalOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_ops_total",
			Help:      "Local edit operations applied to the shared document",
		}),
		HistorySignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_signals_total",
			Help:      "Undo and redo requests handled",
		}, []string{"kind"}),
		RemoteUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_updates_total",
			Help:      "Document updates reflected back into the text field",
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Version snapshots persisted",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Version snapshots that could not be persisted",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while connected to the relay server",
		}),
		RelayedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Messages relayed between peers of a room",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LocalOps,
			m.HistorySignals,
			m.RemoteUpdates,
			m.SnapshotsWritten,
			m.SnapshotFailures,
			m.Connected,
			m.RelayedMessages,
		)
	}
	return m
}
