package db

import (
	"context"
	"fmt"
	"time"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

const escalationColumns = `id, disaster_id, escalated_by, status, notified_at, created_at`

// CreateEscalation inserts the single escalation record of a disaster.
func (d *DB) CreateEscalation(ctx context.Context, e models.Escalation) error {
	query := `
	INSERT INTO escalations (` + escalationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := d.conn(ctx).Exec(ctx, query, e.ID, e.DisasterID, e.EscalatedBy, e.Status, e.NotifiedAt, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("disaster %s already escalated", e.DisasterID)
		}
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	return nil
}

func scanEscalation(row scanner) (models.Escalation, error) {
	var e models.Escalation
	err := row.Scan(&e.ID, &e.DisasterID, &e.EscalatedBy, &e.Status, &e.NotifiedAt, &e.CreatedAt)
	return e, err
}

func (d *DB) GetEscalation(ctx context.Context, id string) (models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = $1`
	e, err := scanEscalation(d.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return models.Escalation{}, notFound(err, "escalation", id)
	}
	return e, nil
}

func (d *DB) ListEscalations(ctx context.Context, limit, offset int) ([]models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := d.conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get escalations: %w", err)
	}
	defer rows.Close()

	list := []models.Escalation{}
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// MarkEscalationNotified flips a pending escalation to notified. It reports
// false when the record is missing or no longer pending.
func (d *DB) MarkEscalationNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
	UPDATE escalations
	SET status = $1, notified_at = $2
	WHERE id = $3 AND status = $4`

	result, err := d.conn(ctx).Exec(ctx, query, models.EscalationNotified, at, id, models.EscalationPending)
	if err != nil {
		return false, fmt.Errorf("failed to update escalation %s: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (d *DB) DeleteEscalation(ctx context.Context, id string) error {
	if _, err := d.conn(ctx).Exec(ctx, `DELETE FROM escalations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete escalation %s: %w", id, err)
	}
	return nil
}
