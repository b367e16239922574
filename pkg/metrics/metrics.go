package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuardDecisions counts authorization decisions by tier and outcome (allowed|denied|error).
	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsor_guard_decisions_total",
			Help: "Total number of authorization guard decisions",
		},
		[]string{"tier", "result"},
	)

	// UsageLogs counts logParamUsage outcomes (logged|denied|unknown_param|count_exhausted|error).
	UsageLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsor_usage_logs_total",
			Help: "Total number of param usage log attempts",
		},
		[]string{"result"},
	)

	// RelayCalls counts outbound delegated verification calls by operation and outcome.
	RelayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsor_relay_calls_total",
			Help: "Total number of remote calls issued by the relay",
		},
		[]string{"operation", "result"},
	)

	// MaintenanceRuns counts scheduled maintenance jobs by job and outcome (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsor_maintenance_runs_total",
			Help: "Total number of maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// RegistryParams reports the number of stored param records.
	RegistryParams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sponsor_registry_params",
		Help: "Number of param records held by the registry",
	})

	// TrustedManagers reports how many manager entries are currently trusted.
	TrustedManagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sponsor_trusted_managers",
		Help: "Number of manager principals currently trusted",
	})

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sponsor_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
