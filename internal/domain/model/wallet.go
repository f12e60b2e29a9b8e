package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredWallet is an admin-curated address whose ledger activity is scanned.
type MonitoredWallet struct {
	Address         string              `db:"address" json:"address"`
	OwnerName       string              `db:"owner_name" json:"owner_name"`
	IsActive        bool                `db:"is_active" json:"is_active"`
	LastCheckedAt   *time.Time          `db:"last_checked_at" json:"last_checked_at,omitempty"`
	LastLedgerIndex int64               `db:"last_ledger_index" json:"last_ledger_index"`
	AlertThreshold  decimal.NullDecimal `db:"alert_threshold" json:"alert_threshold"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// ThresholdOr returns the wallet override, or fallback when none is set.
func (w MonitoredWallet) ThresholdOr(fallback decimal.Decimal) decimal.Decimal {
	if w.AlertThreshold.Valid {
		return w.AlertThreshold.Decimal
	}
	return fallback
}
