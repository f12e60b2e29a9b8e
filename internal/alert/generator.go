// Package alert decides whether a classified transaction is a whale movement
// and records at most one alert per transaction hash.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/classifier"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/events"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/metrics"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

// Qualifies reports whether tx crosses its threshold. Only native XRP amounts
// are compared; the critical watermark qualifies regardless of a higher override.
func Qualifies(tx model.NormalizedTransaction, c classifier.Classification, th classifier.Thresholds) bool {
	if !tx.IsNative() {
		return false
	}
	if tx.Amount.GreaterThanOrEqual(c.Threshold) {
		return true
	}
	return th.Critical.IsPositive() && tx.Amount.GreaterThanOrEqual(th.Critical)
}

// TierFor selects the notification tier. system_alerts is never produced here.
func TierFor(amount decimal.Decimal, c classifier.Classification, th classifier.Thresholds) model.AlertTier {
	switch {
	case th.Critical.IsPositive() && amount.GreaterThanOrEqual(th.Critical):
		return model.TierCriticalWhales
	case c.IsExchangeDeposit():
		return model.TierExchangeDeposits
	default:
		return model.TierWhaleMovements
	}
}

type Generator struct {
	alerts     store.AlertRepository
	thresholds classifier.Thresholds
	publisher  events.Publisher
	logger     *slog.Logger
}

func NewGenerator(alerts store.AlertRepository, th classifier.Thresholds, publisher events.Publisher, logger *slog.Logger) *Generator {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Generator{
		alerts:     alerts,
		thresholds: th,
		publisher:  publisher,
		logger:     logger.With("component", "alert_generator"),
	}
}

// Evaluate writes an alert for tx when it qualifies. The returned alert is nil
// when tx does not qualify. created is false when another writer already holds
// the transaction hash.
func (g *Generator) Evaluate(ctx context.Context, tx model.NormalizedTransaction, c classifier.Classification) (*model.WhaleAlert, bool, error) {
	if !Qualifies(tx, c, g.thresholds) {
		return nil, false, nil
	}

	a := &model.WhaleAlert{
		WalletAddress:   tx.WalletAddress,
		OwnerName:       c.OwnerName,
		TransactionHash: tx.TransactionHash,
		Amount:          tx.Amount,
		TransactionType: c.Kind,
		Direction:       tx.TransactionType,
		AlertType:       TierFor(tx.Amount, c, g.thresholds),
		TransactionDate: tx.TransactionDate,
	}
	if c.ExchangeName != "" {
		name := c.ExchangeName
		a.ExchangeName = &name
	}

	created, err := g.alerts.InsertIfAbsent(ctx, a)
	if err != nil {
		return nil, false, fmt.Errorf("insert alert %s: %w", tx.TransactionHash, err)
	}
	if !created {
		metrics.AlertsDuplicateSuppressed.Inc()
		g.logger.Debug("alert not created", "tx_hash", tx.TransactionHash, "reason", apperr.ErrDuplicateSuppressed)
		return a, false, nil
	}

	metrics.AlertsCreatedTotal.WithLabelValues(a.AlertType.String()).Inc()
	g.logger.Info("whale alert created",
		"tx_hash", a.TransactionHash,
		"wallet", a.WalletAddress,
		"amount", a.Amount.String(),
		"alert_type", a.AlertType,
	)
	events.Emit(ctx, g.publisher, g.logger, events.NewAlertEvent(events.TypeAlertCreated, *a))
	return a, true, nil
}
