// Package metrics holds the process-wide Prometheus collectors. Every
// collector is updated in place by its owning component; nothing here
// carries logic of its own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles all collectors behind a private Prometheus registry
// so tests can build as many instances as they like.
type Registry struct {
	reg *prometheus.Registry

	// Gauges
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	ActiveMatches     prometheus.Gauge
	QueueSize         prometheus.Gauge
	OnlinePlayers     prometheus.Gauge

	// Counters
	MessagesIn       *prometheus.CounterVec // by message type
	MessagesOut      *prometheus.CounterVec
	UnknownMessages  prometheus.Counter
	AuthAttempts     *prometheus.CounterVec // by outcome
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	BroadcastDropped prometheus.Counter
	SnapshotsDropped prometheus.Counter
	MatchesStarted   prometheus.Counter
	MatchesCompleted prometheus.Counter

	// Histograms
	CacheOpSeconds  *prometheus.HistogramVec // by operation
	HandleSeconds   *prometheus.HistogramVec // by message type
	FanoutSeconds   prometheus.Histogram
	UpgradeSeconds  prometheus.Histogram
	PersistSeconds  prometheus.Histogram

	// System gauges fed by the sampler
	GoroutineCount prometheus.Gauge
	HeapBytes      prometheus.Gauge
	CPUPercent     prometheus.Gauge
}

// NewRegistry creates every collector the server updates.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_connections_active",
			Help: "Number of live WebSocket connections.",
		}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_rooms_active",
			Help: "Number of rooms currently registered.",
		}),
		ActiveMatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_matches_active",
			Help: "Number of matches not yet finished.",
		}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_matchmaking_queue_size",
			Help: "Players currently waiting in the matchmaking queue.",
		}),
		OnlinePlayers: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_players_online",
			Help: "Players in the online set (connected or recently seen).",
		}),

		MessagesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blastio_messages_in_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		MessagesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blastio_messages_out_total",
			Help: "Outbound messages by type.",
		}, []string{"type"}),
		UnknownMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_messages_unknown_total",
			Help: "Inbound messages with no registered handler.",
		}),
		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blastio_auth_attempts_total",
			Help: "Connection upgrade attempts by outcome.",
		}, []string{"outcome"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_cache_hits_total",
			Help: "Cache reads that found a record.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_cache_misses_total",
			Help: "Cache reads that found nothing.",
		}),
		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_broadcast_dropped_total",
			Help: "Messages dropped because a client's send queue was full.",
		}),
		SnapshotsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_snapshots_dropped_total",
			Help: "Per-recipient snapshots dropped on slow clients.",
		}),
		MatchesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_matches_started_total",
			Help: "Matches that reached the Playing phase.",
		}),
		MatchesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "blastio_matches_completed_total",
			Help: "Matches that reached the Finished phase.",
		}),

		CacheOpSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blastio_cache_op_seconds",
			Help:    "Cache operation latency by operation name.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		HandleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blastio_message_handle_seconds",
			Help:    "Router handler latency by message type.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"type"}),
		FanoutSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blastio_snapshot_fanout_seconds",
			Help:    "Time to fan one snapshot out to every match member.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		UpgradeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blastio_ws_upgrade_seconds",
			Help:    "WebSocket upgrade handler latency, auth included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PersistSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blastio_result_persist_seconds",
			Help:    "End-of-match persistence latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		GoroutineCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_goroutines",
			Help: "Live goroutine count.",
		}),
		HeapBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_heap_alloc_bytes",
			Help: "Bytes of allocated heap objects.",
		}),
		CPUPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "blastio_process_cpu_percent",
			Help: "Process CPU usage percent, sampled periodically.",
		}),
	}
}

// Handler returns the /metrics scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
