package db

import (
	"context"
	"fmt"

	"relief-service/internal/models"
)

// UpsertSubscription creates a subscription or moves an existing one keyed by
// the same connection id.
func (d *DB) UpsertSubscription(ctx context.Context, s models.Subscription) error {
	query := `
	INSERT INTO subscriptions (connection_id, user_id, lat, lng, guest, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (connection_id) DO UPDATE
	SET user_id = EXCLUDED.user_id,
	    lat = EXCLUDED.lat,
	    lng = EXCLUDED.lng,
	    guest = EXCLUDED.guest,
	    updated_at = EXCLUDED.updated_at`

	_, err := d.conn(ctx).Exec(ctx, query, s.ConnectionID, s.UserID, s.Lat, s.Lng, s.Guest, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (d *DB) GetSubscription(ctx context.Context, connectionID string) (models.Subscription, error) {
	query := `
	SELECT connection_id, user_id, lat, lng, guest, updated_at
	FROM subscriptions
	WHERE connection_id = $1`

	var s models.Subscription
	err := d.conn(ctx).QueryRow(ctx, query, connectionID).Scan(&s.ConnectionID, &s.UserID, &s.Lat, &s.Lng, &s.Guest, &s.UpdatedAt)
	if err != nil {
		return models.Subscription{}, notFound(err, "subscription", connectionID)
	}
	return s, nil
}

func (d *DB) DeleteSubscription(ctx context.Context, connectionID string) error {
	_, err := d.conn(ctx).Exec(ctx, `DELETE FROM subscriptions WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (d *DB) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	query := `
	SELECT connection_id, user_id, lat, lng, guest, updated_at
	FROM subscriptions
	ORDER BY connection_id`

	rows, err := d.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.ConnectionID, &s.UserID, &s.Lat, &s.Lng, &s.Guest, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
