package postgres

import (
	"context"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

type SubscriptionRepo struct {
	db *DB
}

func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

func (r *SubscriptionRepo) Upsert(ctx context.Context, s *model.TelegramSubscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telegram_subscriptions (user_id, chat_id, subscription_type, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (user_id, subscription_type) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			is_active = true,
			updated_at = now()
	`, s.UserID, s.ChatID, s.SubscriptionType)
	if err != nil {
		return storeErr("upsert subscription", err)
	}
	s.IsActive = true
	return nil
}

func (r *SubscriptionRepo) Deactivate(ctx context.Context, userID string, tier model.AlertTier) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE telegram_subscriptions SET is_active = false, updated_at = now()
		WHERE user_id = $1 AND subscription_type = $2 AND is_active = true
	`, userID, tier)
	if err != nil {
		return false, storeErr("deactivate subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("deactivate subscription rows affected", err)
	}
	return n == 1, nil
}

func (r *SubscriptionRepo) ListActiveByType(ctx context.Context, tier model.AlertTier) ([]model.TelegramSubscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, chat_id, subscription_type, is_active, created_at, updated_at
		FROM telegram_subscriptions
		WHERE subscription_type = $1 AND is_active = true
		ORDER BY created_at
	`, tier)
	if err != nil {
		return nil, storeErr("list subscriptions", err)
	}
	defer rows.Close()

	var subs []model.TelegramSubscription
	for rows.Next() {
		var s model.TelegramSubscription
		if err := rows.Scan(&s.UserID, &s.ChatID, &s.SubscriptionType, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, storeErr("scan subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate subscriptions", err)
	}
	return subs, nil
}
