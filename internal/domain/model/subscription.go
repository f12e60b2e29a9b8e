package model

import "time"

// TelegramSubscription routes tier alerts to an individual chat.
type TelegramSubscription struct {
	UserID           string    `db:"user_id" json:"user_id"`
	ChatID           int64     `db:"chat_id" json:"chat_id"`
	SubscriptionType AlertTier `db:"subscription_type" json:"subscription_type"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
