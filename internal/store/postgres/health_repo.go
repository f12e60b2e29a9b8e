package postgres

import (
	"context"
	"database/sql"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

type HealthRepo struct {
	db *DB
}

func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

func (r *HealthRepo) Append(ctx context.Context, h *model.MonitoringHealth) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO monitoring_health (service_name, status, last_check_at, error_message, response_time_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, h.ServiceName, h.Status, h.LastCheckAt, h.ErrorMessage, h.ResponseTimeMs).Scan(&h.ID)
	if err != nil {
		return storeErr("append health", err)
	}
	return nil
}

func (r *HealthRepo) Latest(ctx context.Context, limit int) ([]model.MonitoringHealth, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, service_name, status, last_check_at, error_message, response_time_ms
		FROM monitoring_health
		ORDER BY last_check_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storeErr("list health", err)
	}
	defer rows.Close()

	var entries []model.MonitoringHealth
	for rows.Next() {
		var (
			h        model.MonitoringHealth
			errMsg   sql.NullString
			respTime sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.ServiceName, &h.Status, &h.LastCheckAt, &errMsg, &respTime); err != nil {
			return nil, storeErr("scan health", err)
		}
		if errMsg.Valid {
			msg := errMsg.String
			h.ErrorMessage = &msg
		}
		if respTime.Valid {
			ms := respTime.Int64
			h.ResponseTimeMs = &ms
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate health", err)
	}
	return entries, nil
}
