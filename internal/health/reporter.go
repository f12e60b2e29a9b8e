// Package health records the outcome of every scan and dispatch attempt and
// raises system alerts when a service starts or stops failing.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/metrics"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/notify"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

const writeTimeout = 5 * time.Second

// Service names used in the health log.
func WalletScanService(address string) string { return "wallet_scan:" + address }
func DispatchService(tier model.AlertTier) string { return "alert_dispatch:" + tier.String() }

const ServiceMonitorAll = "monitor_all"

type Config struct {
	UnhealthyThreshold int
	// SystemChannel receives transition messages alongside system_alerts subscribers.
	SystemChannel string
	// Cooldown suppresses repeated messages of the same kind for the same service.
	Cooldown time.Duration
}

type transition string

const (
	transitionUnhealthy transition = "unhealthy"
	transitionRecovered transition = "recovered"
)

type cooldownKey struct {
	service string
	kind    transition
}

type Reporter struct {
	repo   store.HealthRepository
	subs   store.SubscriptionRepository
	sender notify.Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	trackers map[string]*Tracker
	lastSent map[cooldownKey]time.Time
}

// NewReporter builds a reporter over repos.Health. Transition messages go to
// SystemChannel and to active system_alerts subscribers when repos.Subscriptions
// is set. A nil sender disables them.
func NewReporter(repos store.Repos, sender notify.Sender, cfg Config, logger *slog.Logger) *Reporter {
	return &Reporter{
		repo:     repos.Health,
		subs:     repos.Subscriptions,
		sender:   sender,
		cfg:      cfg,
		logger:   logger.With("component", "health"),
		now:      time.Now,
		trackers: make(map[string]*Tracker),
		lastSent: make(map[cooldownKey]time.Time),
	}
}

// Record appends one health entry and updates the service tracker. It never
// fails: write and notification errors are logged and counted.
func (r *Reporter) Record(ctx context.Context, service string, elapsed time.Duration, err error) {
	now := r.now().UTC()
	ms := elapsed.Milliseconds()
	entry := &model.MonitoringHealth{
		ServiceName:    service,
		Status:         model.HealthStatusOK,
		LastCheckAt:    now,
		ResponseTimeMs: &ms,
	}
	if err != nil {
		msg := err.Error()
		entry.Status = model.HealthStatusError
		entry.ErrorMessage = &msg
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if werr := r.repo.Append(writeCtx, entry); werr != nil {
		metrics.HealthWriteErrors.Inc()
		r.logger.Warn("health write failed", "service", service, "error", werr)
	}

	tracker := r.tracker(service)
	if err != nil {
		if tracker.RecordFailure(now, elapsed, err.Error()) {
			r.notifyTransition(writeCtx, service, transitionUnhealthy, fmt.Sprintf(
				"⚠️ SYSTEM ALERT\nService %s is UNHEALTHY after %d consecutive failures.\nLast error: %s",
				service, tracker.Snapshot().ConsecutiveFailures, err.Error()))
		}
	} else if tracker.RecordSuccess(now, elapsed) {
		r.notifyTransition(writeCtx, service, transitionRecovered, fmt.Sprintf("✅ SYSTEM RECOVERY\nService %s is healthy again.", service))
	}

	snap := tracker.Snapshot()
	metrics.HealthStatus.WithLabelValues(healthMetricService(service)).Set(snap.Status.gauge())
	metrics.HealthConsecutiveFailures.WithLabelValues(healthMetricService(service)).Set(float64(snap.ConsecutiveFailures))
}

// healthMetricService folds per-wallet services into one label value.
func healthMetricService(service string) string {
	const prefix = "wallet_scan:"
	if len(service) > len(prefix) && service[:len(prefix)] == prefix {
		return "wallet_scan"
	}
	return service
}

func (r *Reporter) tracker(service string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[service]
	if !ok {
		t = NewTracker(service, r.cfg.UnhealthyThreshold)
		r.trackers[service] = t
	}
	return t
}

func (r *Reporter) notifyTransition(ctx context.Context, service string, kind transition, text string) {
	if r.sender == nil {
		r.logger.Warn("health transition", "service", service, "transition", kind, "message", text)
		return
	}

	key := cooldownKey{service: service, kind: kind}
	r.mu.Lock()
	if last, ok := r.lastSent[key]; ok && r.now().Sub(last) < r.cfg.Cooldown {
		r.mu.Unlock()
		r.logger.Debug("system alert suppressed by cooldown", "service", service, "transition", kind)
		return
	}
	r.lastSent[key] = r.now()
	r.mu.Unlock()

	targets := r.targets(ctx)
	if len(targets) == 0 {
		r.logger.Warn("health transition, no system alert recipients", "service", service, "transition", kind, "message", text)
		return
	}
	for _, channel := range targets {
		if err := r.sender.Send(ctx, channel, text); err != nil {
			r.logger.Warn("system alert send failed", "service", service, "channel", channel, "error", err)
		}
	}
}

// targets lists the system channel followed by each distinct subscriber chat.
func (r *Reporter) targets(ctx context.Context) []string {
	var out []string
	if r.cfg.SystemChannel != "" {
		out = append(out, r.cfg.SystemChannel)
	}
	if r.subs == nil {
		return out
	}
	subs, err := r.subs.ListActiveByType(ctx, model.TierSystemAlerts)
	if err != nil {
		r.logger.Warn("list system alert subscribers failed", "error", err)
		return out
	}
	chats := lo.Map(subs, func(s model.TelegramSubscription, _ int) string { return strconv.FormatInt(s.ChatID, 10) })
	return lo.Uniq(append(out, chats...))
}

// Snapshots returns every tracked service ordered by name.
func (r *Reporter) Snapshots() []Snapshot {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Latest returns the most recent persisted entries.
func (r *Reporter) Latest(ctx context.Context, limit int) ([]model.MonitoringHealth, error) {
	return r.repo.Latest(ctx, limit)
}
