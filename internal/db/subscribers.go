package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coastal-alert-service/internal/models"
)

const subscriberColumns = `id, phone_number, is_active, subscribed_at, last_notification_sent`

// CreateSubscriber inserts an active subscriber for phone, or returns the existing row.
// The boolean is true only when a new row was created.
func (d *DB) CreateSubscriber(ctx context.Context, phone string) (models.Subscriber, bool, error) {
	query := `
	INSERT INTO sms_subscribers (phone_number, is_active, subscribed_at)
	VALUES ($1, TRUE, NOW())
	ON CONFLICT (phone_number) DO NOTHING
	RETURNING ` + subscriberColumns

	s, err := scanSubscriber(d.Pool.QueryRow(ctx, query, phone))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Subscriber{}, false, fmt.Errorf("failed to create subscriber: %w", err)
	}

	s, err = d.GetSubscriberByPhone(ctx, phone)
	if err != nil {
		return models.Subscriber{}, false, err
	}
	return s, false, nil
}

func (d *DB) GetSubscriberByPhone(ctx context.Context, phone string) (models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM sms_subscribers WHERE phone_number = $1`

	s, err := scanSubscriber(d.Pool.QueryRow(ctx, query, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscriber{}, models.ErrSubscriberNotFound
	}
	if err != nil {
		return models.Subscriber{}, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return s, nil
}

// SetSubscriberActive updates the active flag and returns the updated row.
func (d *DB) SetSubscriberActive(ctx context.Context, phone string, active bool) (models.Subscriber, error) {
	query := `
	UPDATE sms_subscribers
	SET is_active = $1
	WHERE phone_number = $2
	RETURNING ` + subscriberColumns

	s, err := scanSubscriber(d.Pool.QueryRow(ctx, query, active, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscriber{}, models.ErrSubscriberNotFound
	}
	if err != nil {
		return models.Subscriber{}, fmt.Errorf("failed to update subscriber: %w", err)
	}
	return s, nil
}

// GetSubscribers returns every subscriber, most recently subscribed first.
func (d *DB) GetSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	return d.querySubscribers(ctx, `SELECT `+subscriberColumns+` FROM sms_subscribers ORDER BY subscribed_at DESC, id DESC`)
}

// GetActiveSubscribers is the dispatch snapshot.
func (d *DB) GetActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	return d.querySubscribers(ctx, `SELECT `+subscriberColumns+` FROM sms_subscribers WHERE is_active = TRUE ORDER BY id`)
}

func (d *DB) querySubscribers(ctx context.Context, query string) ([]models.Subscriber, error) {
	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscribers: %w", err)
	}
	defer rows.Close()

	var list []models.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanSubscriber(row pgx.Row) (models.Subscriber, error) {
	var s models.Subscriber
	err := row.Scan(&s.ID, &s.PhoneNumber, &s.IsActive, &s.SubscribedAt, &s.LastNotificationSent)
	return s, err
}
