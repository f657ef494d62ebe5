package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FetchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fanfetch",
			Name:      "fetch_events_total",
			Help:      "Count of fetch events delivered to subscribers.",
		},
		[]string{"type"},
	)

	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fanfetch",
			Name:      "registrations_total",
			Help:      "Subscriber registrations by outcome (first starts a worker, joined coalesces).",
		},
		[]string{"result"},
	)

	DroppedReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fanfetch",
			Name:      "dropped_reports_total",
			Help:      "Worker reports discarded before delivery.",
		},
		[]string{"reason"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fanfetch",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of fetch workers.",
		},
		[]string{"outcome"},
	)

	PendingKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fanfetch",
			Name:      "pending_keys",
			Help:      "Number of keys with a pending subscriber set.",
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fanfetch",
			Name:      "cache_entries",
			Help:      "Number of resolved keys held in the result cache.",
		},
	)

	Aria2RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fanfetch",
			Name:      "aria2_rpc_seconds",
			Help:      "Latency of aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	Aria2RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fanfetch",
			Name:      "aria2_rpc_errors_total",
			Help:      "Failed aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	PoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fanfetch",
			Name:      "pool_queue_depth",
			Help:      "Fetch workers waiting for a pool slot.",
		},
	)
)

// Register registers the fanfetch metrics into the default registry.
func Register() {
	prometheus.MustRegister(FetchEvents, Registrations, DroppedReports, FetchDuration, PendingKeys, CacheEntries, PoolQueueDepth, Aria2RPCLatency, Aria2RPCErrors)
}
