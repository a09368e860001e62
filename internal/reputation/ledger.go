// Package reputation keeps the points, deduction counter and ban state of
// volunteers.
package reputation

import (
	"context"
	"fmt"

	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/fanout"
	"relief-service/internal/logging"
	"relief-service/internal/models"
)

// Store is the volunteer persistence used by the ledger.
type Store interface {
	GetVolunteer(ctx context.Context, id string) (models.Volunteer, error)
	SaveReputation(ctx context.Context, id string, rep models.Reputation) error
}

// Ledger mutations are read-modify-write and must run on the serial executor.
type Ledger struct {
	store        Store
	publisher    fanout.Publisher
	clock        clock.Clock
	logger       *logging.Logger
	banThreshold int
}

func NewLedger(store Store, publisher fanout.Publisher, clk clock.Clock, logger *logging.Logger, banThreshold int) *Ledger {
	return &Ledger{
		store:        store,
		publisher:    publisher,
		clock:        clk,
		logger:       logger,
		banThreshold: banThreshold,
	}
}

// Credit adds points unconditionally.
func (l *Ledger) Credit(ctx context.Context, volunteerID string, points int, reason string) (models.Reputation, error) {
	if points < 0 {
		return models.Reputation{}, apperr.Validation("credit must not be negative, got %d", points)
	}
	v, err := l.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return models.Reputation{}, err
	}
	rep := v.Reputation
	rep.Points += points
	if err := l.store.SaveReputation(ctx, volunteerID, rep); err != nil {
		return models.Reputation{}, fmt.Errorf("failed to credit volunteer %s: %w", volunteerID, err)
	}
	l.logger.Infof("Credited %d points to volunteer %s (%s), balance %d", points, volunteerID, reason, rep.Points)
	l.notify(ctx, volunteerID, points, rep.Points, reason)
	return rep, nil
}

// DeductForExpiredTicket bumps the deduction counter and bans the volunteer
// the first time it reaches the threshold.
func (l *Ledger) DeductForExpiredTicket(ctx context.Context, volunteerID string) (models.Reputation, error) {
	v, err := l.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return models.Reputation{}, err
	}
	rep := v.Reputation
	rep.Deductions++
	if !rep.Banned && rep.Deductions >= l.banThreshold {
		now := l.clock.Now()
		rep.Banned = true
		rep.BanReason = fmt.Sprintf("%d help tickets expired without a submitted log", rep.Deductions)
		rep.BannedAt = &now
	}
	if err := l.store.SaveReputation(ctx, volunteerID, rep); err != nil {
		return models.Reputation{}, fmt.Errorf("failed to record deduction for volunteer %s: %w", volunteerID, err)
	}
	if rep.Banned && !v.Reputation.Banned {
		l.logger.Warnf("Volunteer %s banned after %d deductions", volunteerID, rep.Deductions)
	} else {
		l.logger.Infof("Deduction recorded for volunteer %s (%d/%d)", volunteerID, rep.Deductions, l.banThreshold)
	}
	return rep, nil
}

// PenalizeForExpiredTask removes points, never below zero. The ban counter is
// not touched.
func (l *Ledger) PenalizeForExpiredTask(ctx context.Context, volunteerID string, points int) (models.Reputation, error) {
	v, err := l.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return models.Reputation{}, err
	}
	rep := v.Reputation
	before := rep.Points
	rep.Points -= points
	if rep.Points < 0 {
		rep.Points = 0
	}
	if err := l.store.SaveReputation(ctx, volunteerID, rep); err != nil {
		return models.Reputation{}, fmt.Errorf("failed to penalize volunteer %s: %w", volunteerID, err)
	}
	l.logger.Infof("Penalized volunteer %s by %d points, balance %d", volunteerID, before-rep.Points, rep.Points)
	l.notify(ctx, volunteerID, rep.Points-before, rep.Points, "task deadline missed")
	return rep, nil
}

// EnsureNotBanned returns a forbidden error for banned volunteers.
func (l *Ledger) EnsureNotBanned(ctx context.Context, volunteerID string) (models.Volunteer, error) {
	v, err := l.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return models.Volunteer{}, err
	}
	if v.Reputation.Banned {
		return models.Volunteer{}, apperr.Forbidden("volunteer %s is banned: %s", volunteerID, v.Reputation.BanReason)
	}
	return v, nil
}

func (l *Ledger) notify(ctx context.Context, volunteerID string, delta, points int, reason string) {
	intent, err := fanout.To(fanout.User(volunteerID), models.PointsUpdate{
		VolunteerID: volunteerID,
		Delta:       delta,
		Points:      points,
		Reason:      reason,
	}, l.clock.Now())
	if err != nil {
		l.logger.Errorf("Failed to build points update: %v", err)
		return
	}
	if err := l.publisher.Publish(ctx, intent); err != nil {
		l.logger.Errorf("Failed to publish points update for %s: %v", volunteerID, err)
	}
}
