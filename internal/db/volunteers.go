package db

import (
	"context"
	"fmt"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

func (d *DB) CreateVolunteer(ctx context.Context, v models.Volunteer) error {
	query := `
	INSERT INTO volunteers (id, name, role, points, deductions, banned, ban_reason, banned_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	r := v.Reputation
	_, err := d.conn(ctx).Exec(ctx, query, v.ID, v.Name, v.Role, r.Points, r.Deductions, r.Banned, r.BanReason, r.BannedAt, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("volunteer %s already exists", v.ID)
		}
		return fmt.Errorf("failed to create volunteer: %w", err)
	}
	return nil
}

func (d *DB) GetVolunteer(ctx context.Context, id string) (models.Volunteer, error) {
	query := `
	SELECT id, name, role, points, deductions, banned, ban_reason, banned_at, created_at
	FROM volunteers
	WHERE id = $1`

	var v models.Volunteer
	r := &v.Reputation
	err := d.conn(ctx).QueryRow(ctx, query, id).Scan(
		&v.ID, &v.Name, &v.Role, &r.Points, &r.Deductions, &r.Banned, &r.BanReason, &r.BannedAt, &v.CreatedAt,
	)
	if err != nil {
		return models.Volunteer{}, notFound(err, "volunteer", id)
	}
	return v, nil
}

// SaveReputation overwrites the embedded reputation state of a volunteer.
func (d *DB) SaveReputation(ctx context.Context, id string, r models.Reputation) error {
	query := `
	UPDATE volunteers
	SET points = $1, deductions = $2, banned = $3, ban_reason = $4, banned_at = $5
	WHERE id = $6`

	result, err := d.conn(ctx).Exec(ctx, query, r.Points, r.Deductions, r.Banned, r.BanReason, r.BannedAt, id)
	if err != nil {
		return fmt.Errorf("failed to save reputation for %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("volunteer %s", id)
	}
	return nil
}
