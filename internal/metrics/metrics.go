package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage counters and histograms. Per-wallet labels are avoided to keep
// cardinality bounded by the tier and outcome sets.

var (
	// Scanner
	ScannerScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Total wallet scans by outcome",
	}, []string{"status"})

	ScannerTxFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "scanner",
		Name:      "transactions_fetched_total",
		Help:      "Total payment transactions fetched from the ledger",
	})

	ScannerTxRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "scanner",
		Name:      "transactions_recorded_total",
		Help:      "Total transactions newly written to the store",
	})

	ScannerTxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "scanner",
		Name:      "transactions_rejected_total",
		Help:      "Transactions skipped because the store refused their values",
	})

	ScannerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "whalemon",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "Wallet scan duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// Ledger RPC
	LedgerRPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "ledger",
		Name:      "rpc_calls_total",
		Help:      "Total ledger RPC calls by method and status",
	}, []string{"method", "status"})

	LedgerRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "ledger",
		Name:      "rate_limit_waits_total",
		Help:      "Total ledger calls delayed by the token bucket",
	})

	// Alert generation
	AlertsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "alert",
		Name:      "created_total",
		Help:      "Total whale alerts created",
	}, []string{"alert_type"})

	AlertsDuplicateSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "alert",
		Name:      "duplicate_suppressed_total",
		Help:      "Total alert inserts suppressed by the transaction hash constraint",
	})

	// Dispatch
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Total dispatch attempts by tier and outcome",
	}, []string{"alert_type", "outcome"})

	DispatchSubscriberFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "dispatch",
		Name:      "subscriber_failures_total",
		Help:      "Total failed subscriber deliveries",
	}, []string{"alert_type"})

	DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "whalemon",
		Subsystem: "dispatch",
		Name:      "send_duration_seconds",
		Help:      "Primary channel send duration including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"alert_type"})

	DispatchCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "dispatch",
		Name:      "circuit_state",
		Help:      "Channel circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"alert_type"})

	// Orchestrator
	MonitorBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "monitor",
		Name:      "batches_total",
		Help:      "Total monitor-all batches",
	})

	MonitorWalletResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "monitor",
		Name:      "wallet_results_total",
		Help:      "Total per-wallet results by outcome",
	}, []string{"outcome"})

	MonitorBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "whalemon",
		Subsystem: "monitor",
		Name:      "batch_duration_seconds",
		Help:      "Monitor-all batch duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// Health
	HealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "health",
		Name:      "status",
		Help:      "Service health status (0=UNKNOWN, 1=HEALTHY, 2=UNHEALTHY)",
	}, []string{"service"})

	HealthConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "health",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive failures per service",
	}, []string{"service"})

	HealthWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "health",
		Name:      "write_errors_total",
		Help:      "Total health log writes that failed",
	})

	// Events
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whalemon",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published by type and status",
	}, []string{"event", "status"})

	// DB pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Number of established connections",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Number of connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "db_pool",
		Name:      "idle",
		Help:      "Number of idle connections",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whalemon",
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Total number of connections waited for",
	})
)
