package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/fanout"
	"relief-service/internal/fanout/fanouttest"
	"relief-service/internal/logging"
	"relief-service/internal/memstore"
	"relief-service/internal/models"
	"relief-service/internal/reputation"
	"relief-service/internal/worker"
)

var (
	admin = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}
	asha  = models.Identity{UserID: "vol-1", Role: models.RoleVolunteer}
	ravi  = models.Identity{UserID: "vol-2", Role: models.RoleVolunteer}
)

type harness struct {
	mgr    *Manager
	ledger *reputation.Ledger
	store  *memstore.Store
	rec   *fanouttest.Recorder
	clock *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store: memstore.New(),
		rec:   &fanouttest.Recorder{},
		clock: clock.NewManual(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)),
	}
	logger := logging.Discard()
	cfg := config.DefaultEngagement()
	h.ledger = reputation.NewLedger(h.store, h.rec, h.clock, logger, cfg.BanThreshold)
	h.mgr = NewManager(h.store, h.ledger, worker.Inline{Logger: logger}, h.clock, logger, cfg)

	for _, v := range []models.Volunteer{
		{ID: asha.UserID, Name: "Asha", Role: models.RoleVolunteer},
		{ID: ravi.UserID, Name: "Ravi", Role: models.RoleVolunteer},
	} {
		require.NoError(t, h.store.CreateVolunteer(ctx, v))
	}
	h.disaster(t, "d1")
	return h
}

func (h *harness) disaster(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.store.CreateDisaster(context.Background(), models.Disaster{
		ID:       id,
		Type:     "flood",
		Location: models.Location{City: "Patna", State: "Bihar"},
		Severity: models.SeverityMedium,
		Source:   models.SourceManual,
		Status:   models.DisasterActive,
	}))
}

func proofs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "https://cdn.example.org/proof/" + string(rune('a'+i)) + ".jpg"
	}
	return out
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketSignedUp, tk.Status)
	assert.True(t, tk.SignedUp)
	assert.Equal(t, tk.SignedUpAt.Add(72*time.Hour), tk.ExpiresAt)

	_, err = h.mgr.SignUp(ctx, asha, "d1")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = h.mgr.SignUp(ctx, ravi, "d1")
	assert.NoError(t, err)

	_, err = h.mgr.SignUp(ctx, asha, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = h.mgr.SignUp(ctx, models.Identity{UserID: "ghost"}, "d1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSignUpClosedDisaster(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.store.UpdateDisasterStatus(ctx, "d1", models.DisasterResolved)
	require.NoError(t, err)

	_, err = h.mgr.SignUp(ctx, asha, "d1")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestSubmitLog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)

	_, err = h.mgr.SubmitLog(ctx, ravi, tk.ID, 5, proofs(5))
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 0, proofs(5))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 5, append(proofs(4), " "))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	stored, err := h.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSignedUp, stored.Status)

	tk, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 5, proofs(5))
	require.NoError(t, err)
	assert.Equal(t, models.TicketPending, tk.Status)
	assert.Len(t, tk.Proofs, 5)

	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 5, proofs(5))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	// a pending ticket still blocks a second sign-up
	_, err = h.mgr.SignUp(ctx, asha, "d1")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestSubmitLogAfterExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)

	h.clock.Advance(73 * time.Hour)
	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 5, proofs(5))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	stored, err := h.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketExpired, stored.Status)
	assert.True(t, stored.ScoreDeducted)

	v, err := h.store.GetVolunteer(ctx, asha.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Reputation.Deductions)
}

func TestVerifyCreditsPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)
	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 5, proofs(6))
	require.NoError(t, err)

	_, err = h.mgr.Verify(ctx, asha, tk.ID, true)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	tk, err = h.mgr.Verify(ctx, admin, tk.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.TicketVerified, tk.Status)
	assert.Equal(t, admin.UserID, tk.VerifiedBy)
	require.NotNil(t, tk.VerifiedAt)

	v, err := h.store.GetVolunteer(ctx, asha.UserID)
	require.NoError(t, err)
	assert.Equal(t, 50, v.Reputation.Points)

	events := h.rec.To(fanout.User(asha.UserID))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPointsUpdated, events[0].Envelope.Event)
	var update models.PointsUpdate
	require.NoError(t, json.Unmarshal(events[0].Envelope.Data, &update))
	assert.Equal(t, 50, update.Delta)

	_, err = h.mgr.Verify(ctx, admin, tk.ID, true)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	v, _ = h.store.GetVolunteer(ctx, asha.UserID)
	assert.Equal(t, 50, v.Reputation.Points)
}

func TestVerifyReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)

	_, err = h.mgr.Verify(ctx, admin, tk.ID, false)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 3, proofs(5))
	require.NoError(t, err)
	tk, err = h.mgr.Verify(ctx, admin, tk.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.TicketRejected, tk.Status)

	v, _ := h.store.GetVolunteer(ctx, asha.UserID)
	assert.Zero(t, v.Reputation.Points)
	assert.Empty(t, h.rec.Intents())

	// a rejected ticket no longer blocks a new sign-up
	_, err = h.mgr.SignUp(ctx, asha, "d1")
	assert.NoError(t, err)
}

func TestExpireOnlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)

	ok, err := h.mgr.Expire(ctx, tk)
	require.NoError(t, err)
	assert.False(t, ok, "not yet overdue")

	h.clock.Advance(72*time.Hour + time.Minute)
	ok, err = h.mgr.Expire(ctx, tk)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale copy of the record: the guarded update refuses it
	ok, err = h.mgr.Expire(ctx, tk)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _ := h.store.GetVolunteer(ctx, asha.UserID)
	assert.Equal(t, 1, v.Reputation.Deductions)
}

type flakyLedger struct {
	Ledger
	failures int
	calls    int
}

func (l *flakyLedger) DeductForExpiredTicket(ctx context.Context, volunteerID string) (models.Reputation, error) {
	l.calls++
	if l.failures > 0 {
		l.failures--
		return models.Reputation{}, errors.New("ledger unavailable")
	}
	return l.Ledger.DeductForExpiredTicket(ctx, volunteerID)
}

func TestExpireRetriesFailedDeduction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ledger := &flakyLedger{Ledger: h.ledger, failures: 1}
	logger := logging.Discard()
	h.mgr = NewManager(h.store, ledger, worker.Inline{Logger: logger}, h.clock, logger, config.DefaultEngagement())

	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)
	h.clock.Advance(73 * time.Hour)

	overdue, err := h.mgr.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	ok, err := h.mgr.Expire(ctx, overdue[0])
	assert.Error(t, err)
	assert.False(t, ok)

	stored, err := h.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSignedUp, stored.Status)
	assert.False(t, stored.ScoreDeducted)

	overdue, err = h.mgr.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	ok, err = h.mgr.Expire(ctx, overdue[0])
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err = h.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketExpired, stored.Status)
	assert.True(t, stored.ScoreDeducted)
	assert.Equal(t, 2, ledger.calls)
	v, _ := h.store.GetVolunteer(ctx, asha.UserID)
	assert.Equal(t, 1, v.Reputation.Deductions)
}

func TestGetExpiresOverdueTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)

	got, err := h.mgr.Get(ctx, asha, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSignedUp, got.Status)

	h.clock.Advance(73 * time.Hour)
	got, err = h.mgr.Get(ctx, asha, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketExpired, got.Status)
	assert.True(t, got.ScoreDeducted)

	_, err = h.mgr.Get(ctx, ravi, tk.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	v, _ := h.store.GetVolunteer(ctx, asha.UserID)
	assert.Equal(t, 1, v.Reputation.Deductions)
}

func TestListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tk, err := h.mgr.SignUp(ctx, asha, "d1")
	require.NoError(t, err)
	_, err = h.mgr.SignUp(ctx, ravi, "d1")
	require.NoError(t, err)

	list, err := h.mgr.ListForVolunteer(ctx, asha, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tk.ID, list[0].ID)

	_, err = h.mgr.ListForVolunteer(ctx, asha, ravi.UserID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	list, err = h.mgr.ListForVolunteer(ctx, admin, ravi.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.mgr.Get(ctx, ravi, tk.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	got, err := h.mgr.Get(ctx, admin, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, asha.UserID, got.VolunteerID)

	_, err = h.mgr.ListPending(ctx, asha)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = h.mgr.SubmitLog(ctx, asha, tk.ID, 2, proofs(5))
	require.NoError(t, err)
	pending, err := h.mgr.ListPending(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
