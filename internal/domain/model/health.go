package model

import "time"

type HealthStatus string

const (
	HealthStatusOK    HealthStatus = "ok"
	HealthStatusError HealthStatus = "error"
)

// MonitoringHealth is one append-only observation of a scan or dispatch attempt.
type MonitoringHealth struct {
	ID             int64        `db:"id" json:"id"`
	ServiceName    string       `db:"service_name" json:"service_name"`
	Status         HealthStatus `db:"status" json:"status"`
	LastCheckAt    time.Time    `db:"last_check_at" json:"last_check_at"`
	ErrorMessage   *string      `db:"error_message" json:"error_message,omitempty"`
	ResponseTimeMs *int64       `db:"response_time_ms" json:"response_time_ms,omitempty"`
}
