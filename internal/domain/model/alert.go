package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertTier is the severity classification that selects the notification channel.
type AlertTier string

const (
	TierWhaleMovements   AlertTier = "whale_movements"
	TierExchangeDeposits AlertTier = "exchange_deposits"
	TierCriticalWhales   AlertTier = "critical_whales"
	TierSystemAlerts     AlertTier = "system_alerts"
)

// AllTiers lists every tier in ascending severity.
var AllTiers = []AlertTier{TierWhaleMovements, TierExchangeDeposits, TierCriticalWhales, TierSystemAlerts}

func (t AlertTier) String() string {
	return string(t)
}

// Valid reports whether t is a known tier.
func (t AlertTier) Valid() bool {
	for _, tier := range AllTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// TransferKind is the classifier's label for a transaction.
type TransferKind string

const (
	KindDirectTransfer  TransferKind = "direct_transfer"
	KindExchangeDeposit TransferKind = "exchange_deposit"
)

// WhaleAlert is the persisted alert record. At most one exists per TransactionHash
// and IsSent only ever moves from false to true.
type WhaleAlert struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	WalletAddress   string          `db:"wallet_address" json:"wallet_address"`
	OwnerName       string          `db:"owner_name" json:"owner_name"`
	TransactionHash string          `db:"transaction_hash" json:"transaction_hash"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	TransactionType TransferKind    `db:"transaction_type" json:"transaction_type"`
	Direction       Direction       `db:"direction" json:"direction"`
	ExchangeName    *string         `db:"exchange_name" json:"exchange_name,omitempty"`
	AlertType       AlertTier       `db:"alert_type" json:"alert_type"`
	IsSent          bool            `db:"is_sent" json:"is_sent"`
	SentAt          *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	TransactionDate time.Time       `db:"transaction_date" json:"transaction_date"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
