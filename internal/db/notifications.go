package db

import (
	"context"
	"fmt"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

const notificationColumns = `id, disaster_id, disaster_type, city, state, lat, lng, severity, message, advisory, recipient, read, created_at`

func (d *DB) CreateNotification(ctx context.Context, n models.Notification) error {
	query := `
        INSERT INTO notifications (` + notificationColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := d.conn(ctx).Exec(ctx, query,
		n.ID, n.DisasterID, n.DisasterType, n.Location.City, n.Location.State,
		n.Location.Lat, n.Location.Lng, n.Severity, n.Message, n.Advisory,
		n.Recipient, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func scanNotification(row scanner) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID, &n.DisasterID, &n.DisasterType, &n.Location.City, &n.Location.State,
		&n.Location.Lat, &n.Location.Lng, &n.Severity, &n.Message, &n.Advisory,
		&n.Recipient, &n.Read, &n.CreatedAt,
	)
	return n, err
}

func (d *DB) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(d.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return models.Notification{}, notFound(err, "notification", id)
	}
	return n, nil
}

// ListNotifications returns notifications addressed to any of recipients, newest
// first. An empty recipients list returns everything.
func (d *DB) ListNotifications(ctx context.Context, recipients []string, limit, offset int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	args := []interface{}{}
	if len(recipients) > 0 {
		query += ` WHERE recipient = ANY($1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, recipients, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := d.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (d *DB) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := d.conn(ctx).Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("notification %s", id)
	}
	return nil
}
