package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

const walletColumns = `address, owner_name, is_active, last_checked_at, last_ledger_index, alert_threshold, created_at, updated_at`

type WalletRepo struct {
	db *DB
}

func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

func (r *WalletRepo) List(ctx context.Context) ([]model.MonitoredWallet, error) {
	return r.query(ctx, `SELECT `+walletColumns+` FROM monitored_wallets ORDER BY created_at, address`)
}

func (r *WalletRepo) ListActive(ctx context.Context) ([]model.MonitoredWallet, error) {
	return r.query(ctx, `SELECT `+walletColumns+` FROM monitored_wallets WHERE is_active = true ORDER BY created_at, address`)
}

func (r *WalletRepo) query(ctx context.Context, q string, args ...any) ([]model.MonitoredWallet, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query wallets", err)
	}
	defer rows.Close()

	var wallets []model.MonitoredWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, storeErr("scan wallet", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate wallets", err)
	}
	return wallets, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*model.MonitoredWallet, error) {
	var (
		w           model.MonitoredWallet
		lastChecked sql.NullTime
	)
	if err := row.Scan(
		&w.Address, &w.OwnerName, &w.IsActive, &lastChecked,
		&w.LastLedgerIndex, &w.AlertThreshold, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		w.LastCheckedAt = &t
	}
	return &w, nil
}

func (r *WalletRepo) Get(ctx context.Context, address string) (*model.MonitoredWallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM monitored_wallets WHERE address = $1`, address))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get wallet", err)
	}
	return w, nil
}

func (r *WalletRepo) Upsert(ctx context.Context, w *model.MonitoredWallet) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitored_wallets (address, owner_name, is_active, alert_threshold)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			owner_name = EXCLUDED.owner_name,
			alert_threshold = COALESCE(EXCLUDED.alert_threshold, monitored_wallets.alert_threshold),
			updated_at = now()
	`, w.Address, w.OwnerName, w.IsActive, w.AlertThreshold)
	if err != nil {
		return storeErr("upsert wallet", err)
	}
	return nil
}

func (r *WalletRepo) AdvanceCursor(ctx context.Context, address string, ledgerIndex int64, checkedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitored_wallets SET
			last_ledger_index = GREATEST(last_ledger_index, $2),
			last_checked_at = $3,
			updated_at = now()
		WHERE address = $1
	`, address, ledgerIndex, checkedAt)
	if err != nil {
		return storeErr("advance cursor", err)
	}
	return requireRow(res, address)
}

// Update applies p in one statement so a missing wallet leaves nothing half-written.
func (r *WalletRepo) Update(ctx context.Context, address string, p store.WalletPatch) error {
	var active sql.NullBool
	if p.IsActive != nil {
		active = sql.NullBool{Bool: *p.IsActive, Valid: true}
	}
	setThreshold := p.AlertThreshold != nil
	var threshold decimal.NullDecimal
	if setThreshold {
		threshold = *p.AlertThreshold
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitored_wallets SET
			is_active = COALESCE($2, is_active),
			alert_threshold = CASE WHEN $3 THEN $4 ELSE alert_threshold END,
			updated_at = now()
		WHERE address = $1
	`, address, active, setThreshold, threshold)
	if err != nil {
		return storeErr("update wallet", err)
	}
	return requireRow(res, address)
}

func requireRow(res sql.Result, address string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("wallet %s: %w", address, apperr.ErrWalletNotFound)
	}
	return nil
}
