package store

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

// WalletRepository provides access to monitored wallets and their scan cursors.
type WalletRepository interface {
	List(ctx context.Context) ([]model.MonitoredWallet, error)
	ListActive(ctx context.Context) ([]model.MonitoredWallet, error)
	// Get returns nil, nil when the address is not onboarded.
	Get(ctx context.Context, address string) (*model.MonitoredWallet, error)
	// Upsert onboards a wallet or refreshes its owner name. Cursor and is_active of an
	// existing row are left untouched; the threshold is only replaced when set.
	Upsert(ctx context.Context, w *model.MonitoredWallet) error
	// AdvanceCursor moves last_ledger_index forward (never backwards) and stamps
	// last_checked_at in a single conditional write.
	AdvanceCursor(ctx context.Context, address string, ledgerIndex int64, checkedAt time.Time) error
	// Update applies every set field of p in a single write.
	Update(ctx context.Context, address string, p WalletPatch) error
}

// WalletPatch holds operator edits to a wallet; nil fields are left unchanged.
type WalletPatch struct {
	IsActive *bool
	// AlertThreshold replaces the override; a non-nil invalid value clears it.
	AlertThreshold *decimal.NullDecimal
}

// IsEmpty reports whether p changes nothing.
func (p WalletPatch) IsEmpty() bool {
	return p.IsActive == nil && p.AlertThreshold == nil
}

// TransactionRepository provides access to normalized transactions.
type TransactionRepository interface {
	// InsertIfAbsent records t unless its hash already exists. Returns true when a row
	// was written.
	InsertIfAbsent(ctx context.Context, t *model.NormalizedTransaction) (bool, error)
	ListByWallet(ctx context.Context, address string, limit int) ([]model.NormalizedTransaction, error)
}

// AlertRepository provides access to whale alerts.
type AlertRepository interface {
	// InsertIfAbsent writes a unless an alert for the same transaction hash exists.
	// Returns true when this call created the row.
	InsertIfAbsent(ctx context.Context, a *model.WhaleAlert) (bool, error)
	// ListPending returns unsent alerts ordered by (created_at, id).
	ListPending(ctx context.Context, q PendingQuery) ([]model.WhaleAlert, error)
	ListRecent(ctx context.Context, limit int) ([]model.WhaleAlert, error)
	GetByTxHash(ctx context.Context, txHash string) (*model.WhaleAlert, error)
	// MarkSent performs the pending -> sent transition guarded by is_sent = false.
	// Returns false when another caller already confirmed the alert.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
}

// PendingQuery selects a page of unsent alerts.
type PendingQuery struct {
	// Tiers restricts the page to these alert types; empty means every tier.
	Tiers []model.AlertTier
	// After resumes the listing strictly after this position; nil starts at the oldest.
	After *PendingCursor
	// Limit caps the page size; zero or negative means no cap.
	Limit int
}

// PendingCursor is a keyset position in the pending listing.
type PendingCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the position of a.
func CursorOf(a model.WhaleAlert) *PendingCursor {
	return &PendingCursor{CreatedAt: a.CreatedAt, ID: a.ID}
}

// Before reports whether c sorts strictly before a.
func (c PendingCursor) Before(a model.WhaleAlert) bool {
	if !a.CreatedAt.Equal(c.CreatedAt) {
		return c.CreatedAt.Before(a.CreatedAt)
	}
	return bytes.Compare(c.ID[:], a.ID[:]) < 0
}

// HealthRepository is the append-only monitoring health log.
type HealthRepository interface {
	Append(ctx context.Context, h *model.MonitoringHealth) error
	Latest(ctx context.Context, limit int) ([]model.MonitoringHealth, error)
}

// SubscriptionRepository provides access to Telegram tier subscriptions.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, s *model.TelegramSubscription) error
	// Deactivate soft-disables a subscription. Returns false when none was active.
	Deactivate(ctx context.Context, userID string, tier model.AlertTier) (bool, error)
	ListActiveByType(ctx context.Context, tier model.AlertTier) ([]model.TelegramSubscription, error)
}

// Repos bundles every repository the pipeline needs.
type Repos struct {
	Wallets       WalletRepository
	Transactions  TransactionRepository
	Alerts        AlertRepository
	Health        HealthRepository
	Subscriptions SubscriptionRepository
}
