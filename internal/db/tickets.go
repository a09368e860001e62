package db

import (
	"context"
	"fmt"
	"time"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

const ticketColumns = `id, volunteer_id, disaster_id, status, signed_up, signed_up_at, expires_at,
	quantity, proofs, score_deducted, verified_by, verified_at`

// CreateTicket inserts a help ticket. The partial unique index rejects a
// second active ticket for the same volunteer and disaster.
func (d *DB) CreateTicket(ctx context.Context, t models.HelpTicket) error {
	query := `
	INSERT INTO help_tickets (` + ticketColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	proofs := t.Proofs
	if proofs == nil {
		proofs = []string{}
	}
	_, err := d.conn(ctx).Exec(ctx, query,
		t.ID, t.VolunteerID, t.DisasterID, t.Status, t.SignedUp, t.SignedUpAt, t.ExpiresAt,
		t.Quantity, proofs, t.ScoreDeducted, t.VerifiedBy, t.VerifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("volunteer %s already has an active ticket for disaster %s", t.VolunteerID, t.DisasterID)
		}
		return fmt.Errorf("failed to create help ticket: %w", err)
	}
	return nil
}

func scanTicket(row scanner) (models.HelpTicket, error) {
	var t models.HelpTicket
	err := row.Scan(
		&t.ID, &t.VolunteerID, &t.DisasterID, &t.Status, &t.SignedUp, &t.SignedUpAt, &t.ExpiresAt,
		&t.Quantity, &t.Proofs, &t.ScoreDeducted, &t.VerifiedBy, &t.VerifiedAt,
	)
	return t, err
}

func (d *DB) GetTicket(ctx context.Context, id string) (models.HelpTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM help_tickets WHERE id = $1`
	t, err := scanTicket(d.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return models.HelpTicket{}, notFound(err, "help ticket", id)
	}
	return t, nil
}

func (d *DB) HasActiveTicket(ctx context.Context, volunteerID, disasterID string) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM help_tickets
		WHERE volunteer_id = $1 AND disaster_id = $2 AND status IN ($3, $4)
	)`
	var exists bool
	err := d.conn(ctx).QueryRow(ctx, query, volunteerID, disasterID, models.TicketSignedUp, models.TicketPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active tickets: %w", err)
	}
	return exists, nil
}

func (d *DB) queryTickets(ctx context.Context, where string, args ...interface{}) ([]models.HelpTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM help_tickets WHERE ` + where + ` ORDER BY signed_up_at`
	rows, err := d.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get help tickets: %w", err)
	}
	defer rows.Close()

	list := []models.HelpTicket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan help ticket: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (d *DB) ListTicketsByVolunteer(ctx context.Context, volunteerID string) ([]models.HelpTicket, error) {
	return d.queryTickets(ctx, `volunteer_id = $1`, volunteerID)
}

func (d *DB) ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]models.HelpTicket, error) {
	return d.queryTickets(ctx, `status = $1`, status)
}

// ListExpiredTickets returns signed-up tickets past expiry whose penalty has not been applied.
func (d *DB) ListExpiredTickets(ctx context.Context, now time.Time) ([]models.HelpTicket, error) {
	return d.queryTickets(ctx, `status = $1 AND score_deducted = FALSE AND expires_at < $2`, models.TicketSignedUp, now)
}

// UpdateTicket writes t only if the stored ticket is still in status from and
// has no penalty applied. It reports whether the row was written.
func (d *DB) UpdateTicket(ctx context.Context, t models.HelpTicket, from models.TicketStatus) (bool, error) {
	query := `
	UPDATE help_tickets
	SET status = $1, quantity = $2, proofs = $3, score_deducted = $4, verified_by = $5, verified_at = $6
	WHERE id = $7 AND status = $8 AND score_deducted = FALSE`

	proofs := t.Proofs
	if proofs == nil {
		proofs = []string{}
	}
	result, err := d.conn(ctx).Exec(ctx, query,
		t.Status, t.Quantity, proofs, t.ScoreDeducted, t.VerifiedBy, t.VerifiedAt, t.ID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update help ticket %s: %w", t.ID, err)
	}
	return result.RowsAffected() == 1, nil
}
