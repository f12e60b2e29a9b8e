package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NativeCurrency is the ledger's native asset code.
const NativeCurrency = "XRP"

// Direction is the side of a transfer relative to the monitored wallet.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// NormalizedTransaction is the canonical record of one observed ledger payment.
// TransactionHash is the idempotency key.
type NormalizedTransaction struct {
	WalletAddress      string          `db:"wallet_address" json:"wallet_address"`
	TransactionHash    string          `db:"transaction_hash" json:"transaction_hash"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	Currency           string          `db:"currency" json:"currency"`
	TransactionType    Direction       `db:"transaction_type" json:"transaction_type"`
	SourceAddress      string          `db:"source_address" json:"source_address"`
	DestinationAddress string          `db:"destination_address" json:"destination_address"`
	DestinationTag     *uint32         `db:"destination_tag" json:"destination_tag,omitempty"`
	LedgerIndex        int64           `db:"ledger_index" json:"ledger_index"`
	TransactionDate    time.Time       `db:"transaction_date" json:"transaction_date"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// IsNative reports whether the amount is denominated in the native asset.
func (t NormalizedTransaction) IsNative() bool {
	return t.Currency == NativeCurrency
}

// Counterparty returns the address (and tag) on the other side of the transfer.
func (t NormalizedTransaction) Counterparty() (string, *uint32) {
	if t.TransactionType == DirectionSent {
		return t.DestinationAddress, t.DestinationTag
	}
	return t.SourceAddress, nil
}
