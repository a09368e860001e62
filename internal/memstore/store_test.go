package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

var t0 = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func TestDisasterPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateDisaster(ctx, models.Disaster{
			ID:        fmt.Sprintf("d%d", i),
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListDisasters(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "d4", all[0].ID)

	second, err := s.ListDisasters(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "d2", second[0].ID)

	beyond, err := s.ListDisasters(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	err = s.CreateDisaster(ctx, models.Disaster{ID: "d0"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestEscalationNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEscalation(ctx, models.Escalation{ID: "e1", Status: models.EscalationPending}))

	ok, err := s.MarkEscalationNotified(ctx, "e1", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkEscalationNotified(ctx, "e1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.GetEscalation(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, e.NotifiedAt)
	assert.Equal(t, t0, *e.NotifiedAt)

	ok, err = s.MarkEscalationNotified(ctx, "missing", t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTicketGuard(t *testing.T) {
	ctx := context.Background()
	s := New()
	ticket := models.HelpTicket{ID: "t1", VolunteerID: "v1", DisasterID: "d1", Status: models.TicketSignedUp, ExpiresAt: t0}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	active, err := s.HasActiveTicket(ctx, "v1", "d1")
	require.NoError(t, err)
	assert.True(t, active)

	expired := ticket
	expired.Status = models.TicketExpired
	expired.ScoreDeducted = true
	ok, err := s.UpdateTicket(ctx, expired, models.TicketSignedUp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateTicket(ctx, expired, models.TicketSignedUp)
	require.NoError(t, err)
	assert.False(t, ok, "second expiry must not apply")

	overdue, err := s.ListExpiredTickets(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue)

	_, err = s.UpdateTicket(ctx, models.HelpTicket{ID: "nope"}, models.TicketSignedUp)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestNotificationsByRecipient(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, r := range []string{models.RecipientAll, "v1", "admin", "v2"} {
		require.NoError(t, s.CreateNotification(ctx, models.Notification{
			ID:        fmt.Sprintf("n%d", i),
			Recipient: r,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	list, err := s.ListNotifications(ctx, []string{models.RecipientAll, "v1", "volunteer"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
