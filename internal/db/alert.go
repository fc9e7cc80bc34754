package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coastal-alert-service/internal/models"
)

// CreateAlert inserts a new alert and returns it with its id and creation time.
func (d *DB) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	query := `
	INSERT INTO alerts (title, description, severity, created_at, is_active)
	VALUES ($1, $2, $3, NOW(), $4)
	RETURNING id, created_at`

	err := d.Pool.QueryRow(ctx, query,
		a.Title,
		a.Description,
		string(a.Severity),
		a.IsActive,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return a, nil
}

func (d *DB) GetAlert(ctx context.Context, id int64) (models.Alert, error) {
	query := `
	SELECT id, title, description, severity, created_at, is_active
	FROM alerts
	WHERE id = $1`

	a, err := scanAlert(d.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, models.ErrAlertNotFound
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return a, nil
}

// GetRecentActiveAlerts returns the newest active alerts first.
func (d *DB) GetRecentActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := `
	SELECT id, title, description, severity, created_at, is_active
	FROM alerts
	WHERE is_active = TRUE
	ORDER BY created_at DESC, id DESC
	LIMIT $1`

	rows, err := d.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	defer rows.Close()

	var list []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// SetAlertActive flips the only mutable field of an alert.
func (d *DB) SetAlertActive(ctx context.Context, id int64, active bool) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE alerts SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

func scanAlert(row pgx.Row) (models.Alert, error) {
	var a models.Alert
	var severity string
	err := row.Scan(&a.ID, &a.Title, &a.Description, &severity, &a.CreatedAt, &a.IsActive)
	a.Severity = models.Severity(severity)
	return a, err
}
