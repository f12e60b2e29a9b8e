// Package scanner pulls new ledger activity for one wallet, records it and
// hands every transaction to the alert generator.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/alert"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/classifier"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/health"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/ledger"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/metrics"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/tracing"
)

// HealthRecorder receives one observation per scan attempt.
type HealthRecorder interface {
	Record(ctx context.Context, service string, elapsed time.Duration, err error)
}

// Result describes one completed scan.
type Result struct {
	TransactionsFound    int
	TransactionsRecorded int
	// Alerts holds the alerts created by this scan, in ledger order.
	Alerts []model.WhaleAlert
	Cursor int64
}

type Scanner struct {
	source     ledger.Source
	wallets    store.WalletRepository
	txs        store.TransactionRepository
	lookup     classifier.Lookup
	thresholds classifier.Thresholds
	generator  *alert.Generator
	health     HealthRecorder
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(
	source ledger.Source,
	repos store.Repos,
	lookup classifier.Lookup,
	thresholds classifier.Thresholds,
	generator *alert.Generator,
	hr HealthRecorder,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		source:     source,
		wallets:    repos.Wallets,
		txs:        repos.Transactions,
		lookup:     lookup,
		thresholds: thresholds,
		generator:  generator,
		health:     hr,
		logger:     logger.With("component", "scanner"),
		tracer:     tracing.Tracer("scanner"),
		now:        time.Now,
	}
}

// Scan fetches transactions after the wallet cursor and processes them in
// ledger order. The cursor only advances when every transaction was recorded
// or refused by the store as unrepresentable.
// Once the fetch returned, processing continues even if ctx is cancelled so a
// half-processed batch is not abandoned.
func (s *Scanner) Scan(ctx context.Context, wallet model.MonitoredWallet) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "scanner.scan", trace.WithAttributes(
		attribute.String("wallet.address", wallet.Address),
		attribute.Int64("wallet.cursor", wallet.LastLedgerIndex),
	))
	start := time.Now()
	res.Cursor = wallet.LastLedgerIndex
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ScannerScansTotal.WithLabelValues(status).Inc()
		metrics.ScannerLatency.Observe(time.Since(start).Seconds())
		if s.health != nil {
			s.health.Record(ctx, health.WalletScanService(wallet.Address), time.Since(start), err)
		}
		span.SetAttributes(
			attribute.Int("scan.transactions_found", res.TransactionsFound),
			attribute.Int("scan.alerts_created", len(res.Alerts)),
		)
		tracing.End(span, err)
	}()

	batch, err := s.source.FetchSince(ctx, wallet.Address, wallet.LastLedgerIndex)
	if err != nil {
		s.logger.Warn("ledger fetch failed", "wallet", wallet.Address, "error", err)
		return res, fmt.Errorf("scan %s: %w", wallet.Address, err)
	}
	res.TransactionsFound = len(batch.Transactions)
	metrics.ScannerTxFetched.Add(float64(len(batch.Transactions)))

	work := context.WithoutCancel(ctx)
	for _, ltx := range batch.Transactions {
		tx, ok := Normalize(ltx, wallet.Address)
		if !ok {
			s.logger.Debug("transaction does not touch wallet", "wallet", wallet.Address, "tx_hash", ltx.Hash)
			continue
		}

		inserted, err := s.txs.InsertIfAbsent(work, &tx)
		if errors.Is(err, apperr.ErrRecordRejected) {
			// The row can never be written; holding the cursor would stall the wallet.
			metrics.ScannerTxRejected.Inc()
			s.logger.Warn("transaction rejected by store, skipping",
				"wallet", wallet.Address,
				"tx_hash", tx.TransactionHash,
				"currency", tx.Currency,
				"amount", tx.Amount.String(),
				"error", err,
			)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("scan %s: record %s: %w", wallet.Address, tx.TransactionHash, err)
		}
		if inserted {
			res.TransactionsRecorded++
			metrics.ScannerTxRecorded.Inc()
		}

		// Already-recorded transactions are re-evaluated so an alert lost to a
		// crash between the two writes is still produced.
		c := classifier.Classify(tx, wallet, s.lookup, s.thresholds)
		a, created, err := s.generator.Evaluate(work, tx, c)
		if err != nil {
			return res, fmt.Errorf("scan %s: %w", wallet.Address, err)
		}
		if created {
			res.Alerts = append(res.Alerts, *a)
		}
	}

	next := NextCursor(wallet.LastLedgerIndex, batch)
	if err := s.wallets.AdvanceCursor(work, wallet.Address, next, s.now().UTC()); err != nil {
		return res, fmt.Errorf("scan %s: advance cursor: %w", wallet.Address, err)
	}
	res.Cursor = next

	s.logger.Info("wallet scanned",
		"wallet", wallet.Address,
		"transactions_found", res.TransactionsFound,
		"recorded", res.TransactionsRecorded,
		"alerts_created", len(res.Alerts),
		"cursor", next,
		"truncated", batch.Truncated,
	)
	return res, nil
}

// Normalize maps a ledger payment onto the wallet's perspective. ok is false
// when the wallet is neither sender nor receiver.
func Normalize(tx ledger.Transaction, wallet string) (model.NormalizedTransaction, bool) {
	var dir model.Direction
	switch wallet {
	case tx.Account:
		dir = model.DirectionSent
	case tx.Destination:
		dir = model.DirectionReceived
	default:
		return model.NormalizedTransaction{}, false
	}

	return model.NormalizedTransaction{
		WalletAddress:      wallet,
		TransactionHash:    tx.Hash,
		Amount:             tx.Amount.Value,
		Currency:           tx.Amount.Currency,
		TransactionType:    dir,
		SourceAddress:      tx.Account,
		DestinationAddress: tx.Destination,
		DestinationTag:     tx.DestinationTag,
		LedgerIndex:        tx.LedgerIndex,
		TransactionDate:    tx.Date,
	}, true
}

// NextCursor returns the cursor after processing batch. A truncated batch may
// have cut its last ledger short, so the cursor stops one ledger below it and
// that ledger is fetched again next time. The cursor never moves backwards.
func NextCursor(current int64, batch ledger.Batch) int64 {
	next := current
	maxSeen := batch.MaxLedger()
	if batch.Truncated {
		if maxSeen-1 > next {
			next = maxSeen - 1
		}
		return next
	}
	next = max(next, maxSeen, batch.ValidatedThrough)
	return next
}
