package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

const alertColumns = `id, wallet_address, owner_name, transaction_hash, amount, transaction_type, direction,
	exchange_name, alert_type, is_sent, sent_at, transaction_date, created_at`

type AlertRepo struct {
	db *DB
}

func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// InsertIfAbsent relies on the unique constraint on transaction_hash, so concurrent
// scanners racing on the same transaction produce exactly one row.
func (r *AlertRepo) InsertIfAbsent(ctx context.Context, a *model.WhaleAlert) (bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO whale_alerts (
			id, wallet_address, owner_name, transaction_hash, amount, transaction_type,
			direction, exchange_name, alert_type, is_sent, transaction_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
		ON CONFLICT (transaction_hash) DO NOTHING
		RETURNING created_at
	`, a.ID, a.WalletAddress, a.OwnerName, a.TransactionHash, a.Amount, a.TransactionType,
		a.Direction, a.ExchangeName, a.AlertType, a.TransactionDate,
	).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("insert alert", err)
	}
	a.IsSent = false
	a.SentAt = nil
	a.CreatedAt = createdAt
	return true, nil
}

// ListPending pages through unsent alerts by (created_at, id). A NULL tier array
// or cursor disables that predicate.
func (r *AlertRepo) ListPending(ctx context.Context, q store.PendingQuery) ([]model.WhaleAlert, error) {
	var tiers pq.StringArray
	if len(q.Tiers) > 0 {
		tiers = lo.Map(q.Tiers, func(t model.AlertTier, _ int) string { return t.String() })
	}
	var afterAt sql.NullTime
	var afterID uuid.NullUUID
	if q.After != nil {
		afterAt = sql.NullTime{Time: q.After.CreatedAt, Valid: true}
		afterID = uuid.NullUUID{UUID: q.After.ID, Valid: true}
	}
	var limit sql.NullInt64
	if q.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(q.Limit), Valid: true}
	}
	return r.query(ctx, `SELECT `+alertColumns+` FROM whale_alerts
		WHERE is_sent = false
			AND ($1::text[] IS NULL OR alert_type = ANY($1::text[]))
			AND ($2::timestamptz IS NULL OR (created_at, id) > ($2::timestamptz, $3::uuid))
		ORDER BY created_at, id
		LIMIT $4`, tiers, afterAt, afterID, limit)
}

func (r *AlertRepo) ListRecent(ctx context.Context, limit int) ([]model.WhaleAlert, error) {
	return r.query(ctx, `SELECT `+alertColumns+` FROM whale_alerts ORDER BY created_at DESC LIMIT $1`, limit)
}

func (r *AlertRepo) GetByTxHash(ctx context.Context, txHash string) (*model.WhaleAlert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM whale_alerts WHERE transaction_hash = $1`, txHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get alert", err)
	}
	return a, nil
}

// MarkSent is the only write that touches is_sent; the is_sent = false guard makes the
// transition a compare-and-set.
func (r *AlertRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE whale_alerts SET is_sent = true, sent_at = $2 WHERE id = $1 AND is_sent = false`,
		id, sentAt)
	if err != nil {
		return false, storeErr("mark alert sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("mark alert sent rows affected", err)
	}
	return n == 1, nil
}

func (r *AlertRepo) query(ctx context.Context, q string, args ...any) ([]model.WhaleAlert, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query alerts", err)
	}
	defer rows.Close()

	var alerts []model.WhaleAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("scan alert", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate alerts", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*model.WhaleAlert, error) {
	var (
		a        model.WhaleAlert
		exchange sql.NullString
		sentAt   sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.WalletAddress, &a.OwnerName, &a.TransactionHash, &a.Amount, &a.TransactionType, &a.Direction,
		&exchange, &a.AlertType, &a.IsSent, &sentAt, &a.TransactionDate, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if exchange.Valid {
		name := exchange.String
		a.ExchangeName = &name
	}
	if sentAt.Valid {
		t := sentAt.Time
		a.SentAt = &t
	}
	return &a, nil
}
