// Package tickets manages volunteer help tickets from sign-up to verification
// or expiry.
package tickets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/worker"
)

type Store interface {
	GetDisaster(ctx context.Context, id string) (models.Disaster, error)
	CreateTicket(ctx context.Context, t models.HelpTicket) error
	GetTicket(ctx context.Context, id string) (models.HelpTicket, error)
	HasActiveTicket(ctx context.Context, volunteerID, disasterID string) (bool, error)
	ListTicketsByVolunteer(ctx context.Context, volunteerID string) ([]models.HelpTicket, error)
	ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]models.HelpTicket, error)
	ListExpiredTickets(ctx context.Context, now time.Time) ([]models.HelpTicket, error)
	UpdateTicket(ctx context.Context, t models.HelpTicket, from models.TicketStatus) (bool, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger is the part of the reputation ledger tickets depend on.
type Ledger interface {
	EnsureNotBanned(ctx context.Context, volunteerID string) (models.Volunteer, error)
	Credit(ctx context.Context, volunteerID string, points int, reason string) (models.Reputation, error)
	DeductForExpiredTicket(ctx context.Context, volunteerID string) (models.Reputation, error)
}

type Manager struct {
	store  Store
	ledger Ledger
	exec   worker.Executor
	clock  clock.Clock
	logger *logging.Logger
	cfg    config.Engagement
}

func NewManager(store Store, ledger Ledger, exec worker.Executor, clk clock.Clock, logger *logging.Logger, cfg config.Engagement) *Manager {
	return &Manager{store: store, ledger: ledger, exec: exec, clock: clk, logger: logger, cfg: cfg}
}

// SignUp opens a help ticket for the actor on a disaster.
func (m *Manager) SignUp(ctx context.Context, actor models.Identity, disasterID string) (models.HelpTicket, error) {
	var t models.HelpTicket
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		if _, err := m.ledger.EnsureNotBanned(ctx, actor.UserID); err != nil {
			return err
		}
		d, err := m.store.GetDisaster(ctx, disasterID)
		if err != nil {
			return err
		}
		if d.Status != models.DisasterActive {
			return apperr.Conflict("disaster %s is %s", disasterID, d.Status)
		}
		active, err := m.store.HasActiveTicket(ctx, actor.UserID, disasterID)
		if err != nil {
			return fmt.Errorf("failed to check active tickets: %w", err)
		}
		if active {
			return apperr.Conflict("volunteer %s already has an active ticket for disaster %s", actor.UserID, disasterID)
		}

		now := m.clock.Now()
		t = models.HelpTicket{
			ID:          uuid.NewString(),
			VolunteerID: actor.UserID,
			DisasterID:  disasterID,
			Status:      models.TicketSignedUp,
			SignedUp:    true,
			SignedUpAt:  now,
			ExpiresAt:   now.Add(m.cfg.TicketWindow),
			Proofs:      []string{},
		}
		return m.store.CreateTicket(ctx, t)
	})
	if err != nil {
		return models.HelpTicket{}, err
	}
	m.logger.Infof("Volunteer %s signed up for disaster %s (ticket %s, expires %s)", t.VolunteerID, t.DisasterID, t.ID, t.ExpiresAt.Format(time.RFC3339))
	return t, nil
}

// SubmitLog attaches the work log to a signed-up ticket and queues it for review.
func (m *Manager) SubmitLog(ctx context.Context, actor models.Identity, ticketID string, quantity int, proofs []string) (models.HelpTicket, error) {
	var t models.HelpTicket
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.VolunteerID != actor.UserID {
			return apperr.Forbidden("ticket %s belongs to another volunteer", ticketID)
		}
		if quantity <= 0 {
			return apperr.Validation("quantity must be positive")
		}
		clean := make([]string, 0, len(proofs))
		for _, p := range proofs {
			if p = strings.TrimSpace(p); p != "" {
				clean = append(clean, p)
			}
		}
		if len(clean) < m.cfg.MinProofPhotos {
			return apperr.Validation("at least %d proof photos are required, got %d", m.cfg.MinProofPhotos, len(clean))
		}
		if t.Status == models.TicketSignedUp && t.ExpiresAt.Before(m.clock.Now()) {
			if _, err := m.Expire(ctx, t); err != nil {
				return err
			}
			return apperr.Conflict("ticket %s expired at %s", ticketID, t.ExpiresAt.Format(time.RFC3339))
		}
		if t.Status != models.TicketSignedUp {
			return apperr.Conflict("ticket %s is %s", ticketID, t.Status)
		}

		next := t
		next.Status = models.TicketPending
		next.Quantity = quantity
		next.Proofs = clean
		ok, err := m.store.UpdateTicket(ctx, next, models.TicketSignedUp)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("ticket %s changed concurrently", ticketID)
		}
		t = next
		return nil
	})
	if err != nil {
		return models.HelpTicket{}, err
	}
	m.logger.Infof("Ticket %s submitted for review: quantity=%d proofs=%d", t.ID, t.Quantity, len(t.Proofs))
	return t, nil
}

// Verify records the administrator decision on a pending ticket. Approval
// credits the volunteer quantity times the point rate.
func (m *Manager) Verify(ctx context.Context, actor models.Identity, ticketID string, approve bool) (models.HelpTicket, error) {
	if !actor.IsAdmin() {
		return models.HelpTicket{}, apperr.Forbidden("only administrators can verify help logs")
	}
	var t models.HelpTicket
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != models.TicketPending {
			return apperr.Conflict("ticket %s is %s, not pending review", ticketID, t.Status)
		}

		now := m.clock.Now()
		next := t
		next.Status = models.TicketRejected
		if approve {
			next.Status = models.TicketVerified
		}
		next.VerifiedBy = actor.UserID
		next.VerifiedAt = &now
		ok, err := m.store.UpdateTicket(ctx, next, models.TicketPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("ticket %s changed concurrently", ticketID)
		}
		t = next

		if approve {
			points := t.Quantity * m.cfg.PointsPerUnit
			if _, err := m.ledger.Credit(ctx, t.VolunteerID, points, "help ticket verified"); err != nil {
				return fmt.Errorf("failed to credit volunteer %s: %w", t.VolunteerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.HelpTicket{}, err
	}
	m.logger.Infof("Ticket %s %s by %s", t.ID, t.Status, actor.UserID)
	return t, nil
}

// Expire moves an overdue signed-up ticket to expired and records one
// deduction in the same transaction, so a failed deduction leaves the ticket
// overdue for the next sweep. It reports false when the ticket no longer
// qualifies. Callers must already be running on the executor.
func (m *Manager) Expire(ctx context.Context, t models.HelpTicket) (bool, error) {
	if t.Status != models.TicketSignedUp || t.ScoreDeducted || !t.ExpiresAt.Before(m.clock.Now()) {
		return false, nil
	}
	next := t
	next.Status = models.TicketExpired
	next.ScoreDeducted = true
	expired := false
	err := m.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := m.store.UpdateTicket(ctx, next, models.TicketSignedUp)
		if err != nil {
			return fmt.Errorf("failed to expire ticket %s: %w", t.ID, err)
		}
		if !ok {
			return nil
		}
		if _, err := m.ledger.DeductForExpiredTicket(ctx, t.VolunteerID); err != nil {
			return fmt.Errorf("failed to deduct for expired ticket %s: %w", t.ID, err)
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}
	m.logger.Infof("Ticket %s of volunteer %s expired", t.ID, t.VolunteerID)
	return true, nil
}

// Overdue lists signed-up tickets past their expiry that have not been penalized.
func (m *Manager) Overdue(ctx context.Context) ([]models.HelpTicket, error) {
	return m.store.ListExpiredTickets(ctx, m.clock.Now())
}

// Get returns a ticket visible to the actor. An overdue signed-up ticket is
// expired before it is returned.
func (m *Manager) Get(ctx context.Context, actor models.Identity, id string) (models.HelpTicket, error) {
	var t models.HelpTicket
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if t.VolunteerID != actor.UserID && !actor.IsAdmin() {
			return apperr.Forbidden("ticket %s belongs to another volunteer", id)
		}
		expired, err := m.Expire(ctx, t)
		if err != nil {
			return err
		}
		if expired {
			t, err = m.store.GetTicket(ctx, id)
		}
		return err
	})
	if err != nil {
		return models.HelpTicket{}, err
	}
	return t, nil
}

// ListForVolunteer returns a volunteer's tickets. Volunteers only see their own.
func (m *Manager) ListForVolunteer(ctx context.Context, actor models.Identity, volunteerID string) ([]models.HelpTicket, error) {
	if volunteerID == "" {
		volunteerID = actor.UserID
	}
	if volunteerID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Forbidden("cannot list tickets of another volunteer")
	}
	return m.store.ListTicketsByVolunteer(ctx, volunteerID)
}

// ListPending returns the tickets awaiting review.
func (m *Manager) ListPending(ctx context.Context, actor models.Identity) ([]models.HelpTicket, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can review help logs")
	}
	return m.store.ListTicketsByStatus(ctx, models.TicketPending)
}
