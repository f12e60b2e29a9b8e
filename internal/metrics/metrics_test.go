package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"ScannerScansTotal", ScannerScansTotal},
		{"ScannerTxFetched", ScannerTxFetched},
		{"ScannerTxRecorded", ScannerTxRecorded},
		{"ScannerTxRejected", ScannerTxRejected},
		{"ScannerLatency", ScannerLatency},
		{"LedgerRPCCallsTotal", LedgerRPCCallsTotal},
		{"LedgerRateLimitWaits", LedgerRateLimitWaits},
		{"AlertsCreatedTotal", AlertsCreatedTotal},
		{"AlertsDuplicateSuppressed", AlertsDuplicateSuppressed},
		{"DispatchTotal", DispatchTotal},
		{"DispatchSubscriberFailures", DispatchSubscriberFailures},
		{"DispatchLatency", DispatchLatency},
		{"DispatchCircuitState", DispatchCircuitState},
		{"MonitorBatchesTotal", MonitorBatchesTotal},
		{"MonitorWalletResults", MonitorWalletResults},
		{"MonitorBatchLatency", MonitorBatchLatency},
		{"HealthStatus", HealthStatus},
		{"HealthConsecutiveFailures", HealthConsecutiveFailures},
		{"HealthWriteErrors", HealthWriteErrors},
		{"EventsPublishedTotal", EventsPublishedTotal},
		{"DBPoolOpen", DBPoolOpen},
		{"DBPoolInUse", DBPoolInUse},
		{"DBPoolIdle", DBPoolIdle},
		{"DBPoolWaitCount", DBPoolWaitCount},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrement(t *testing.T) {
	t.Parallel()

	c := DispatchTotal.WithLabelValues("test_tier", "sent")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	assert.NotPanics(t, func() { ScannerScansTotal.WithLabelValues("ok").Inc() })
	assert.NotPanics(t, func() { AlertsCreatedTotal.WithLabelValues("test_tier").Inc() })
	assert.NotPanics(t, func() { MonitorWalletResults.WithLabelValues("failure").Inc() })
	assert.NotPanics(t, func() { HealthStatus.WithLabelValues("test").Set(1) })
	assert.NotPanics(t, func() { ScannerLatency.Observe(0.2) })
}
