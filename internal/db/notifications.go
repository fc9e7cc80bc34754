package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coastal-alert-service/internal/models"
)

// CreateNotification inserts a ledger row and returns it with its id.
func (d *DB) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	query := `
	INSERT INTO notification_logs (subscriber_id, alert_id, sent_at, status, last_error)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`

	err := d.Pool.QueryRow(ctx, query,
		n.SubscriberID, n.AlertID, n.SentAt, string(n.Status), n.LastError,
	).Scan(&n.ID)
	if err != nil {
		return models.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// MarkNotificationSent finalizes a pending row as sent and stamps the subscriber's
// last notification time in the same transaction.
func (d *DB) MarkNotificationSent(ctx context.Context, id, subscriberID int64, at time.Time) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
	UPDATE notification_logs
	SET status = 'sent', sent_at = $1, last_error = ''
	WHERE id = $2 AND status = 'pending'`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, models.ErrNotificationNotPending)
	}

	tag, err = tx.Exec(ctx, `UPDATE sms_subscribers SET last_notification_sent = $1 WHERE id = $2`, at, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to update subscriber %d: %w", subscriberID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSubscriberNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit notification %d: %w", id, err)
	}
	return nil
}

// MarkNotificationFailed finalizes a pending row as failed with the delivery error.
func (d *DB) MarkNotificationFailed(ctx context.Context, id int64, reason string) error {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE notification_logs
	SET status = 'failed', last_error = $1
	WHERE id = $2 AND status = 'pending'`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, models.ErrNotificationNotPending)
	}
	return nil
}

// GetNotifications lists ledger rows, newest first, joined with the phone number and alert title.
func (d *DB) GetNotifications(ctx context.Context, f models.NotificationFilter) ([]models.Notification, error) {
	query := `
	SELECT n.id, n.subscriber_id, n.alert_id, s.phone_number, a.title, n.sent_at, n.status, n.last_error
	FROM notification_logs n
	JOIN sms_subscribers s ON s.id = n.subscriber_id
	JOIN alerts a ON a.id = n.alert_id`

	var where []string
	var args []interface{}
	if f.AlertID != 0 {
		args = append(args, f.AlertID)
		where = append(where, fmt.Sprintf("n.alert_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("n.status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY n.sent_at DESC, n.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		var status string
		if err := rows.Scan(&n.ID, &n.SubscriberID, &n.AlertID, &n.PhoneNumber, &n.AlertTitle, &n.SentAt, &status, &n.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Status = models.NotificationStatus(status)
		list = append(list, n)
	}
	return list, rows.Err()
}
