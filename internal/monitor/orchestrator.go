// Package monitor runs wallet scans for manual triggers and the periodic
// scheduler, aggregating one result per wallet.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/dispatch"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/health"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/metrics"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/scanner"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/tracing"
)

const DefaultWorkers = 4

// WalletScanner is satisfied by *scanner.Scanner.
type WalletScanner interface {
	Scan(ctx context.Context, wallet model.MonitoredWallet) (scanner.Result, error)
}

// AlertDispatcher is satisfied by *dispatch.Dispatcher.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, a model.WhaleAlert) (dispatch.Result, error)
	DispatchPending(ctx context.Context, limit int) (dispatch.Summary, error)
}

type HealthRecorder interface {
	Record(ctx context.Context, service string, elapsed time.Duration, err error)
}

// Result is the outcome of monitoring one wallet.
type Result struct {
	Address           string `json:"address"`
	OwnerName         string `json:"owner_name"`
	TransactionsFound int    `json:"transactions_found"`
	AlertsCreated     int    `json:"alerts_created"`
	AlertsDispatched  int    `json:"alerts_dispatched"`
	Error             string `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

// BatchResult aggregates a MonitorAll run. A failed wallet never aborts the batch.
type BatchResult struct {
	Results      []Result `json:"results"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
}

type Orchestrator struct {
	wallets    store.WalletRepository
	scanner    WalletScanner
	dispatcher AlertDispatcher
	health     HealthRecorder
	workers    int
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewOrchestrator(
	wallets store.WalletRepository,
	sc WalletScanner,
	d AlertDispatcher,
	hr HealthRecorder,
	workers int,
	logger *slog.Logger,
) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		wallets:    wallets,
		scanner:    sc,
		dispatcher: d,
		health:     hr,
		workers:    workers,
		logger:     logger.With("component", "orchestrator"),
		tracer:     tracing.Tracer("monitor"),
	}
}

// MonitorSingle scans one wallet. An unknown address is onboarded when
// ownerName is set, otherwise ErrWalletNotFound is returned. The returned
// error equals Result.Err.
func (o *Orchestrator) MonitorSingle(ctx context.Context, address, ownerName string) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "monitor.single", trace.WithAttributes(attribute.String("wallet.address", address)))
	res := Result{Address: address, OwnerName: ownerName}

	w, err := o.loadOrOnboard(ctx, address, ownerName)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		tracing.End(span, err)
		return res, err
	}

	res = o.monitorWallet(ctx, *w)
	tracing.End(span, res.Err)
	return res, res.Err
}

func (o *Orchestrator) loadOrOnboard(ctx context.Context, address, ownerName string) (*model.MonitoredWallet, error) {
	w, err := o.wallets.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", address, err)
	}
	if w != nil {
		return w, nil
	}
	if ownerName == "" {
		return nil, fmt.Errorf("wallet %s: %w", address, apperr.ErrWalletNotFound)
	}

	if err := o.wallets.Upsert(ctx, &model.MonitoredWallet{Address: address, OwnerName: ownerName, IsActive: true}); err != nil {
		return nil, fmt.Errorf("onboard wallet %s: %w", address, err)
	}
	o.logger.Info("wallet onboarded", "wallet", address, "owner", ownerName)

	w, err = o.wallets.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", address, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s: %w", address, apperr.ErrWalletNotFound)
	}
	return w, nil
}

// monitorWallet scans w and dispatches the alerts the scan created. Dispatch
// failures leave alerts pending for the next sweep and do not fail the wallet.
func (o *Orchestrator) monitorWallet(ctx context.Context, w model.MonitoredWallet) Result {
	res := Result{Address: w.Address, OwnerName: w.OwnerName}

	sr, err := o.scanner.Scan(ctx, w)
	res.TransactionsFound = sr.TransactionsFound
	res.AlertsCreated = len(sr.Alerts)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		metrics.MonitorWalletResults.WithLabelValues("failure").Inc()
		return res
	}

	for _, a := range sr.Alerts {
		dr, err := o.dispatcher.Dispatch(ctx, a)
		if err != nil {
			o.logger.Warn("alert left pending", "wallet", w.Address, "alert_id", a.ID, "error", err)
			continue
		}
		if dr.Outcome == dispatch.OutcomeSent {
			res.AlertsDispatched++
		}
	}
	metrics.MonitorWalletResults.WithLabelValues("success").Inc()
	return res
}

// MonitorAll scans every active wallet through a bounded worker pool. The
// returned error is set only for systemic failures: the wallet list could not
// be read, or every wallet failed against the store.
func (o *Orchestrator) MonitorAll(ctx context.Context) (BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "monitor.all")
	start := time.Now()
	metrics.MonitorBatchesTotal.Inc()

	batch, err := o.monitorAll(ctx)

	metrics.MonitorBatchLatency.Observe(time.Since(start).Seconds())
	if o.health != nil {
		o.health.Record(ctx, health.ServiceMonitorAll, time.Since(start), err)
	}
	span.SetAttributes(
		attribute.Int("batch.success_count", batch.SuccessCount),
		attribute.Int("batch.failure_count", batch.FailureCount),
	)
	tracing.End(span, err)
	return batch, err
}

func (o *Orchestrator) monitorAll(ctx context.Context) (BatchResult, error) {
	wallets, err := o.wallets.ListActive(ctx)
	if err != nil {
		return BatchResult{Results: []Result{}}, fmt.Errorf("list active wallets: %w", err)
	}

	results := make([]Result, len(wallets))
	var g errgroup.Group
	g.SetLimit(o.workers)

	for i, w := range wallets {
		if err := ctx.Err(); err != nil {
			results[i] = cancelled(w, err)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = cancelled(w, err)
				return nil
			}
			results[i] = o.monitorWallet(ctx, w)
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{
		Results:      results,
		SuccessCount: lo.CountBy(results, Result.OK),
	}
	batch.FailureCount = len(results) - batch.SuccessCount

	o.logger.Info("monitor batch complete",
		"wallets", len(results),
		"success_count", batch.SuccessCount,
		"failure_count", batch.FailureCount,
	)

	if len(results) > 0 && lo.EveryBy(results, func(r Result) bool { return errors.Is(r.Err, apperr.ErrStoreUnavailable) }) {
		return batch, fmt.Errorf("monitor all: every wallet failed: %w", apperr.ErrStoreUnavailable)
	}
	return batch, nil
}

func cancelled(w model.MonitoredWallet, err error) Result {
	metrics.MonitorWalletResults.WithLabelValues("cancelled").Inc()
	err = fmt.Errorf("wallet %s not started: %w", w.Address, err)
	return Result{Address: w.Address, OwnerName: w.OwnerName, Err: err, Error: err.Error()}
}
