package db

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL,
		severity VARCHAR(50) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS sms_subscribers (
		id BIGSERIAL PRIMARY KEY,
		phone_number VARCHAR(15) NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		subscribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_notification_sent TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS notification_logs (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL REFERENCES sms_subscribers(id) ON DELETE CASCADE,
		alert_id BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT ''
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_alerts_active_created ON alerts(is_active, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_subscribers_active ON sms_subscribers(is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_logs_alert ON notification_logs(alert_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_logs_status ON notification_logs(status)`,
}

// Migrate creates the schema. Every statement is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := d.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}
