// Package dispatch routes pending whale alerts to their tier channel and
// performs the pending -> sent transition exactly once per alert.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/circuitbreaker"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/events"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/health"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/metrics"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/notify"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/tracing"
)

const subscriberTimeout = 10 * time.Second

type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeAlreadySent   Outcome = "already_sent"
	OutcomeFailed        Outcome = "failed"
	OutcomeNotConfigured Outcome = "not_configured"
)

type Config struct {
	// Channels maps each tier to its channel id.
	Channels    map[model.AlertTier]string
	ExplorerURL string
	Retry       retry.Policy
	Breaker     circuitbreaker.Config
}

// HealthRecorder receives one observation per dispatch attempt.
type HealthRecorder interface {
	Record(ctx context.Context, service string, elapsed time.Duration, err error)
}

type Result struct {
	AlertID     uuid.UUID       `json:"alert_id"`
	TxHash      string          `json:"transaction_hash"`
	AlertType   model.AlertTier `json:"alert_type"`
	Outcome     Outcome         `json:"outcome"`
	Subscribers int             `json:"subscribers_notified"`
	Error       string          `json:"error,omitempty"`
}

type Summary struct {
	Results     []Result `json:"results"`
	Sent        int      `json:"sent"`
	AlreadySent int      `json:"already_sent"`
	Failed      int      `json:"failed"`
}

type Dispatcher struct {
	alerts    store.AlertRepository
	subs      store.SubscriptionRepository
	sender    notify.Sender
	health    HealthRecorder
	publisher events.Publisher
	breakers  *circuitbreaker.Group
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	sweepMu    sync.Mutex
	sweepAfter *store.PendingCursor
}

func NewDispatcher(
	repos store.Repos,
	sender notify.Sender,
	hr HealthRecorder,
	publisher events.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	logger = logger.With("component", "dispatcher")

	bcfg := cfg.Breaker
	userHook := bcfg.OnStateChange
	bcfg.OnStateChange = func(key string, from, to circuitbreaker.State) {
		metrics.DispatchCircuitState.WithLabelValues(key).Set(float64(to))
		logger.Warn("dispatch circuit state changed", "alert_type", key, "from", from.String(), "to", to.String())
		if userHook != nil {
			userHook(key, from, to)
		}
	}

	return &Dispatcher{
		alerts:    repos.Alerts,
		subs:      repos.Subscriptions,
		sender:    sender,
		health:    hr,
		publisher: publisher,
		breakers:  circuitbreaker.NewGroup(bcfg),
		cfg:       cfg,
		logger:    logger,
		tracer:    tracing.Tracer("dispatch"),
		now:       time.Now,
	}
}

// Dispatch sends a and confirms it. A lost confirmation race is reported as
// OutcomeAlreadySent with a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, a model.WhaleAlert) (res Result, err error) {
	res = Result{AlertID: a.ID, TxHash: a.TransactionHash, AlertType: a.AlertType}
	if a.IsSent {
		res.Outcome = OutcomeAlreadySent
		return res, nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.alert", trace.WithAttributes(
		attribute.String("alert.id", a.ID.String()),
		attribute.String("alert.type", a.AlertType.String()),
		attribute.String("tx.hash", a.TransactionHash),
	))
	start := time.Now()
	defer func() {
		metrics.DispatchTotal.WithLabelValues(a.AlertType.String(), string(res.Outcome)).Inc()
		metrics.DispatchLatency.WithLabelValues(a.AlertType.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			res.Error = err.Error()
		}
		tracing.End(span, err)
	}()

	channel := d.cfg.Channels[a.AlertType]
	if channel == "" {
		res.Outcome = OutcomeNotConfigured
		err = fmt.Errorf("dispatch alert %s: %w: no channel for %s", a.ID, apperr.ErrConfigurationMissing, a.AlertType)
		d.recordHealth(ctx, a.AlertType, start, err)
		return res, err
	}

	text := Render(a, d.cfg.ExplorerURL)
	if sendErr := d.send(ctx, a, channel, text); sendErr != nil {
		res.Outcome = OutcomeFailed
		if errors.Is(sendErr, apperr.ErrConfigurationMissing) {
			res.Outcome = OutcomeNotConfigured
		}
		err = sendErr
		d.recordHealth(ctx, a.AlertType, start, err)
		d.logger.Warn("alert dispatch failed", "alert_id", a.ID, "alert_type", a.AlertType, "error", err)
		return res, err
	}
	d.recordHealth(ctx, a.AlertType, start, nil)

	// The message is out; the confirmation must land even if the caller gave up.
	confirmCtx := context.WithoutCancel(ctx)
	sentAt := d.now().UTC()
	won, markErr := d.alerts.MarkSent(confirmCtx, a.ID, sentAt)
	if markErr != nil {
		res.Outcome = OutcomeFailed
		err = fmt.Errorf("dispatch alert %s: confirm: %w", a.ID, markErr)
		d.logger.Error("alert delivered but not confirmed", "alert_id", a.ID, "error", markErr)
		return res, err
	}
	if !won {
		res.Outcome = OutcomeAlreadySent
		d.logger.Info("alert confirmed by another dispatcher", "alert_id", a.ID)
		return res, nil
	}

	res.Outcome = OutcomeSent
	res.Subscribers = d.fanOut(confirmCtx, a, channel, text)

	a.IsSent = true
	a.SentAt = &sentAt
	events.Emit(confirmCtx, d.publisher, d.logger, events.NewAlertEvent(events.TypeAlertSent, a))
	d.logger.Info("alert dispatched",
		"alert_id", a.ID,
		"alert_type", a.AlertType,
		"tx_hash", a.TransactionHash,
		"subscribers", res.Subscribers,
	)
	return res, nil
}

// send delivers text with bounded retries behind the tier's circuit breaker.
func (d *Dispatcher) send(ctx context.Context, a model.WhaleAlert, channel, text string) error {
	breaker := d.breakers.Get(a.AlertType.String())
	err := breaker.Execute(func() error {
		return retry.Do(ctx, d.cfg.Retry, func(ctx context.Context) error {
			return d.sender.Send(ctx, channel, text)
		}, func(err error, next time.Duration) {
			d.logger.Warn("alert send retry", "alert_id", a.ID, "backoff", next, "error", err)
		})
	}, countsAgainstChannel)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrConfigurationMissing):
		return fmt.Errorf("dispatch alert %s: %w", a.ID, err)
	default:
		return fmt.Errorf("dispatch alert %s: %w: %w", a.ID, apperr.ErrTransportFailure, err)
	}
}

func countsAgainstChannel(err error) bool {
	return !errors.Is(err, apperr.ErrConfigurationMissing) && !errors.Is(err, context.Canceled)
}

// fanOut delivers text to every active subscriber of the alert's tier once.
// Failures are logged and counted only. Returns the number delivered.
func (d *Dispatcher) fanOut(ctx context.Context, a model.WhaleAlert, primary, text string) int {
	if d.subs == nil {
		return 0
	}
	subs, err := d.subs.ListActiveByType(ctx, a.AlertType)
	if err != nil {
		d.logger.Warn("list subscribers failed", "alert_type", a.AlertType, "error", err)
		return 0
	}

	subs = lo.UniqBy(subs, func(s model.TelegramSubscription) int64 { return s.ChatID })
	subs = lo.Reject(subs, func(s model.TelegramSubscription, _ int) bool {
		return strconv.FormatInt(s.ChatID, 10) == primary
	})

	delivered := 0
	for _, s := range subs {
		sendCtx, cancel := context.WithTimeout(ctx, subscriberTimeout)
		err := d.sender.Send(sendCtx, strconv.FormatInt(s.ChatID, 10), text)
		cancel()
		if err != nil {
			metrics.DispatchSubscriberFailures.WithLabelValues(a.AlertType.String()).Inc()
			d.logger.Warn("subscriber send failed", "alert_id", a.ID, "user_id", s.UserID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) recordHealth(ctx context.Context, tier model.AlertTier, start time.Time, err error) {
	if d.health == nil {
		return
	}
	d.health.Record(ctx, health.DispatchService(tier), time.Since(start), err)
}

// DispatchPending sends up to limit pending alerts. Only tiers with a channel
// and a breaker that would accept a call are listed, so alerts that cannot be
// delivered never fill the page. Each sweep resumes after the last alert the
// previous sweep listed and wraps to the oldest, so a run of terminally failing
// alerts cannot starve newer ones. Per-alert failures are collected in the
// summary; only a failed listing is returned.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (Summary, error) {
	tiers := d.dispatchableTiers()
	if len(tiers) == 0 {
		d.logger.Debug("no dispatchable tiers, sweep skipped")
		return Summarize(nil), nil
	}
	pending, err := d.nextPending(ctx, tiers, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending alerts: %w", err)
	}

	results := make([]Result, 0, len(pending))
	for _, a := range pending {
		if ctx.Err() != nil {
			results = append(results, Result{
				AlertID:   a.ID,
				TxHash:    a.TransactionHash,
				AlertType: a.AlertType,
				Outcome:   OutcomeFailed,
				Error:     ctx.Err().Error(),
			})
			continue
		}
		res, _ := d.Dispatch(ctx, a)
		results = append(results, res)
	}
	return Summarize(results), nil
}

func (d *Dispatcher) dispatchableTiers() []model.AlertTier {
	return lo.Filter(model.AllTiers, func(t model.AlertTier, _ int) bool {
		return d.cfg.Channels[t] != "" && d.breakers.Get(t.String()).Ready()
	})
}

// nextPending lists one page starting after the sweep position, topping it up
// from the oldest alerts when the tail runs short.
func (d *Dispatcher) nextPending(ctx context.Context, tiers []model.AlertTier, limit int) ([]model.WhaleAlert, error) {
	d.sweepMu.Lock()
	after := d.sweepAfter
	d.sweepMu.Unlock()

	page, err := d.alerts.ListPending(ctx, store.PendingQuery{Tiers: tiers, After: after, Limit: limit})
	if err != nil {
		return nil, err
	}
	if after != nil && (limit <= 0 || len(page) < limit) {
		head, err := d.alerts.ListPending(ctx, store.PendingQuery{Tiers: tiers, Limit: limit - len(page)})
		if err != nil {
			return nil, err
		}
		listed := lo.SliceToMap(page, func(a model.WhaleAlert) (uuid.UUID, bool) { return a.ID, true })
		page = append(page, lo.Reject(head, func(a model.WhaleAlert, _ int) bool { return listed[a.ID] })...)
	}

	var next *store.PendingCursor
	if limit > 0 && len(page) == limit {
		next = store.CursorOf(page[len(page)-1])
	}
	d.sweepMu.Lock()
	d.sweepAfter = next
	d.sweepMu.Unlock()
	return page, nil
}

// Summarize counts outcomes.
func Summarize(results []Result) Summary {
	return Summary{
		Results:     results,
		Sent:        lo.CountBy(results, func(r Result) bool { return r.Outcome == OutcomeSent }),
		AlreadySent: lo.CountBy(results, func(r Result) bool { return r.Outcome == OutcomeAlreadySent }),
		Failed: lo.CountBy(results, func(r Result) bool {
			return r.Outcome == OutcomeFailed || r.Outcome == OutcomeNotConfigured
		}),
	}
}

// CircuitStates reports the breaker state per tier that has seen traffic.
func (d *Dispatcher) CircuitStates() map[string]string {
	out := make(map[string]string)
	for k, s := range d.breakers.States() {
		out[k] = s.String()
	}
	return out
}
