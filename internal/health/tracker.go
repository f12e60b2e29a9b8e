package health

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive failures before a
	// service is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatency is the P95 latency above which a healthy service
	// is reported as degraded.
	DefaultDegradedLatency = 10 * time.Second

	latencyWindowSize = 10
)

// Tracker is the in-memory health state of one service.
type Tracker struct {
	mu                  sync.RWMutex
	service             string
	status              Status
	consecutiveFailures int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	unhealthyThreshold  int
	degradedLatency     time.Duration
	recentLatencies     []time.Duration
}

func NewTracker(service string, unhealthyThreshold int) *Tracker {
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = DefaultUnhealthyThreshold
	}
	return &Tracker{
		service:            service,
		status:             StatusUnknown,
		unhealthyThreshold: unhealthyThreshold,
		degradedLatency:    DefaultDegradedLatency,
		recentLatencies:    make([]time.Duration, 0, latencyWindowSize),
	}
}

// RecordSuccess returns true when the call recovers the service from UNHEALTHY.
func (t *Tracker) RecordSuccess(at time.Time, latency time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasUnhealthy := t.status == StatusUnhealthy
	t.consecutiveFailures = 0
	t.lastSuccessAt = &at
	t.lastError = ""
	t.observe(latency)
	if t.latencyDegraded() {
		t.status = StatusDegraded
	} else {
		t.status = StatusHealthy
	}
	return wasUnhealthy
}

// RecordFailure returns true when the call transitions the service to UNHEALTHY.
func (t *Tracker) RecordFailure(at time.Time, latency time.Duration, errText string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.lastFailureAt = &at
	t.lastError = errText
	t.observe(latency)
	if t.consecutiveFailures >= t.unhealthyThreshold && t.status != StatusUnhealthy {
		t.status = StatusUnhealthy
		return true
	}
	return false
}

// observe must be called with mu held.
func (t *Tracker) observe(d time.Duration) {
	if len(t.recentLatencies) >= latencyWindowSize {
		t.recentLatencies = t.recentLatencies[1:]
	}
	t.recentLatencies = append(t.recentLatencies, d)
}

// latencyDegraded must be called with mu held.
func (t *Tracker) latencyDegraded() bool {
	n := len(t.recentLatencies)
	if n < 2 {
		return false
	}
	sorted := make([]time.Duration, n)
	copy(sorted, t.recentLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (95*n - 1) / 100
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx] > t.degradedLatency
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Service:             t.service,
		Status:              t.status,
		ConsecutiveFailures: t.consecutiveFailures,
		LastSuccessAt:       t.lastSuccessAt,
		LastFailureAt:       t.lastFailureAt,
		LastError:           t.lastError,
	}
}

// Snapshot is a point-in-time view of a tracker (JSON-safe).
type Snapshot struct {
	Service             string     `json:"service"`
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

func (s Status) gauge() float64 {
	switch s {
	case StatusHealthy, StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}
