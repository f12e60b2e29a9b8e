// Package ledger reads validated account history from an XRPL JSON-RPC server.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks

// Source fetches validated transactions that touch an account.
type Source interface {
	// FetchSince returns transactions in ledgers strictly after afterLedger, ascending.
	FetchSince(ctx context.Context, address string, afterLedger int64) (Batch, error)
}

// Amount is a delivered value. Currency is "XRP" for native amounts, whose
// Value is already converted from drops.
type Amount struct {
	Value    decimal.Decimal
	Currency string
	Issuer   string
}

// Transaction is a successful Payment as reported by the ledger.
type Transaction struct {
	Hash             string
	Account          string
	Destination      string
	DestinationTag   *uint32
	Amount           Amount
	LedgerIndex      int64
	TransactionIndex int64
	Date             time.Time
}

// Batch is the result of one FetchSince call.
type Batch struct {
	Transactions []Transaction
	// Truncated is set when the page cap stopped pagination before the end of
	// the requested range. The last ledger in Transactions may be incomplete.
	Truncated bool
	// ValidatedThrough is the highest ledger the server searched. Zero when unknown.
	ValidatedThrough int64
}

// MaxLedger returns the highest ledger index among the batch transactions.
func (b Batch) MaxLedger() int64 {
	var max int64
	for _, tx := range b.Transactions {
		if tx.LedgerIndex > max {
			max = tx.LedgerIndex
		}
	}
	return max
}
