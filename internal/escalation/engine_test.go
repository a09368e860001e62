package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/advisor"
	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/fanout"
	"relief-service/internal/fanout/fanouttest"
	"relief-service/internal/logging"
	"relief-service/internal/memstore"
	"relief-service/internal/models"
	"relief-service/internal/worker"
)

var (
	admin     = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}
	volunteer = models.Identity{UserID: "vol-1", Role: models.RoleVolunteer}
)

type harness struct {
	engine *Engine
	store  *memstore.Store
	rec    *fanouttest.Recorder
	clock  *clock.Manual
}

func newHarness(t *testing.T, mutate func(*config.Engagement), adv advisor.Advisor) *harness {
	t.Helper()
	cfg := config.DefaultEngagement()
	if mutate != nil {
		mutate(&cfg)
	}
	if adv == nil {
		adv = advisor.Table{}
	}
	h := &harness{
		store: memstore.New(),
		rec:   &fanouttest.Recorder{},
		clock: clock.NewManual(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)),
	}
	logger := logging.Discard()
	h.engine = NewEngine(h.store, adv, h.rec, worker.Inline{Logger: logger}, h.clock, logger, cfg)
	return h
}

func ptr(f float64) *float64 { return &f }

func delhi(severity models.Severity, source models.Source) Report {
	return Report{
		Type:       "Flood",
		Location:   models.Location{City: "Delhi", State: "Delhi", Lat: ptr(28.61), Lng: ptr(77.20)},
		Severity:   severity,
		Source:     source,
		ReporterID: "reporter-1",
		Confidence: 0.9,
	}
}

type failingAdvisor struct{}

func (failingAdvisor) Advise(ctx context.Context, disasterType string, severity models.Severity) (string, error) {
	return "", errors.New("advisory service unreachable")
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, intent fanout.Intent) error {
	return errors.New("bus down")
}

type recordingRelay struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRelay) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, e.ID)
	return nil
}

func TestReportHighSeverity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)

	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)
	assert.Equal(t, "flood", res.Disaster.Type)
	assert.Equal(t, models.DisasterActive, res.Disaster.Status)
	assert.Equal(t, models.RecipientAll, res.Notification.Recipient)
	want, _ := advisor.Lookup("flood", models.SeverityHigh)
	assert.Equal(t, want, res.Notification.Advisory)

	require.NotNil(t, res.Escalation)
	esc, err := h.store.GetEscalation(ctx, res.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationPending, esc.Status)
	assert.Equal(t, 1, h.clock.Pending())

	geo := h.rec.Geo()
	require.Len(t, geo, 1)
	assert.Equal(t, 50.0, geo[0].RadiusKm)
	assert.Equal(t, models.EventLocalDisasterAlert, geo[0].Local.Event)
	assert.Equal(t, models.EventNewDisasterAlert, geo[0].General.Event)

	assert.Equal(t, "delhi:delhi", geo[0].Room)
	assert.Empty(t, h.rec.To(fanout.Location("delhi:delhi")))
	assert.Equal(t, []string{models.EventExtremeDisasterAlert}, h.rec.Events(fanout.Role(models.RoleAdmin)))
	crpf := h.rec.To(fanout.All())
	require.Len(t, crpf, 1)
	var notice models.CRPFNotice
	require.NoError(t, json.Unmarshal(crpf[0].Envelope.Data, &notice))
	assert.Equal(t, DefaultUnits, notice.Units)

	var extreme models.ExtremeAlert
	require.NoError(t, json.Unmarshal(h.rec.To(fanout.Role(models.RoleAdmin))[0].Envelope.Data, &extreme))
	assert.Equal(t, res.Escalation.ID, extreme.EscalationID)
	assert.Equal(t, "CRPF teams notified", extreme.Message)

	h.clock.Advance(2 * time.Second)
	esc, _ = h.store.GetEscalation(ctx, res.Escalation.ID)
	assert.Equal(t, models.EscalationPending, esc.Status)

	h.clock.Advance(time.Second)
	esc, _ = h.store.GetEscalation(ctx, res.Escalation.ID)
	assert.Equal(t, models.EscalationNotified, esc.Status)
	require.NotNil(t, esc.NotifiedAt)
	assert.Zero(t, h.clock.Pending())
}

func TestReportMediumSeverity(t *testing.T) {
	h := newHarness(t, nil, nil)
	res, err := h.engine.Report(context.Background(), delhi(models.SeverityMedium, models.SourceAI))
	require.NoError(t, err)
	assert.Nil(t, res.Escalation)
	assert.Zero(t, h.clock.Pending())
	assert.Empty(t, h.rec.To(fanout.Role(models.RoleAdmin)))
	assert.Empty(t, h.rec.To(fanout.All()))
	assert.Len(t, h.rec.Geo(), 1)
}

func TestReportValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)

	cases := map[string]func(r *Report){
		"missing type":     func(r *Report) { r.Type = " " },
		"bad severity":     func(r *Report) { r.Severity = "extreme" },
		"bad source":       func(r *Report) { r.Source = "rumour" },
		"no location":      func(r *Report) { r.Location = models.Location{City: "Delhi"} },
		"half coordinates": func(r *Report) { r.Location.Lng = nil },
		"bad coordinates":  func(r *Report) { r.Location.Lat = ptr(123) },
		"bad confidence":   func(r *Report) { r.Confidence = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := delhi(models.SeverityHigh, models.SourceManual)
			mutate(&r)
			_, err := h.engine.Report(ctx, r)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}

	list, err := h.store.ListDisasters(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.rec.Intents())
}

func TestReportCityOnlyBroadcastsToEveryone(t *testing.T) {
	h := newHarness(t, nil, nil)
	r := delhi(models.SeverityLow, models.SourceManual)
	r.Location.Lat, r.Location.Lng = nil, nil
	_, err := h.engine.Report(context.Background(), r)
	require.NoError(t, err)

	geo := h.rec.Geo()
	require.Len(t, geo, 1)
	assert.Nil(t, geo[0].Lat)
}

func TestAdvisoryFallback(t *testing.T) {
	h := newHarness(t, nil, failingAdvisor{})
	res, err := h.engine.Report(context.Background(), delhi(models.SeverityLow, models.SourceManual))
	require.NoError(t, err)
	assert.Equal(t, advisor.Generic, res.Notification.Advisory)
}

func TestPublishFailureKeepsRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	h.engine.publisher = failingPublisher{}

	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceAI))
	require.NoError(t, err)
	_, err = h.store.GetDisaster(ctx, res.Disaster.ID)
	assert.NoError(t, err)
	_, err = h.store.GetEscalation(ctx, res.Escalation.ID)
	assert.NoError(t, err)
}

func TestManualEscalationFlag(t *testing.T) {
	h := newHarness(t, func(c *config.Engagement) { c.EscalateManualReports = false }, nil)

	res, err := h.engine.Report(context.Background(), delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)
	assert.Nil(t, res.Escalation)

	res, err = h.engine.Report(context.Background(), delhi(models.SeverityHigh, models.SourceExternal))
	require.NoError(t, err)
	assert.NotNil(t, res.Escalation)
}

func TestLowConfidenceIsDowngraded(t *testing.T) {
	h := newHarness(t, func(c *config.Engagement) { c.MinAIConfidence = 0.6 }, nil)

	r := delhi(models.SeverityHigh, models.SourceAI)
	r.Confidence = 0.4
	res, err := h.engine.Report(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, res.Disaster.Severity)
	assert.Nil(t, res.Escalation)

	r = delhi(models.SeverityHigh, models.SourceManual)
	r.Confidence = 0
	res, err = h.engine.Report(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, res.Disaster.Severity)
}

func TestConfirmEscalationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)

	require.NoError(t, h.engine.ConfirmEscalation(ctx, res.Escalation.ID))
	first, _ := h.store.GetEscalation(ctx, res.Escalation.ID)
	require.NotNil(t, first.NotifiedAt)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.engine.ConfirmEscalation(ctx, res.Escalation.ID))
	second, _ := h.store.GetEscalation(ctx, res.Escalation.ID)
	assert.Equal(t, *first.NotifiedAt, *second.NotifiedAt)

	assert.NoError(t, h.engine.ConfirmEscalation(ctx, "missing"))
}

type busyExec struct {
	worker.Inline
	mu   sync.Mutex
	busy int
}

func (b *busyExec) setBusy(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = n
}

func (b *busyExec) Do(ctx context.Context, job worker.Job) error {
	b.mu.Lock()
	if b.busy > 0 {
		b.busy--
		b.mu.Unlock()
		return context.DeadlineExceeded
	}
	b.mu.Unlock()
	return b.Inline.Do(ctx, job)
}

func TestConfirmationRetriesWhenExecutorBusy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	logger := logging.Discard()
	exec := &busyExec{Inline: worker.Inline{Logger: logger}}
	h.engine = NewEngine(h.store, advisor.Table{}, h.rec, exec, h.clock, logger, config.DefaultEngagement())

	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)

	exec.setBusy(1)
	h.clock.Advance(3 * time.Second)
	esc, err := h.store.GetEscalation(ctx, res.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationPending, esc.Status)
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(3 * time.Second)
	esc, err = h.store.GetEscalation(ctx, res.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationNotified, esc.Status)
	assert.Zero(t, h.clock.Pending())
}

func TestMarkNotified(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)

	_, err = h.engine.MarkNotified(ctx, volunteer, res.Escalation.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = h.engine.MarkNotified(ctx, admin, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	esc, err := h.engine.MarkNotified(ctx, admin, res.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationNotified, esc.Status)
	assert.Zero(t, h.clock.Pending())

	_, err = h.engine.MarkNotified(ctx, admin, res.Escalation.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	res, err := h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)

	assert.True(t, errors.Is(h.engine.Withdraw(ctx, volunteer, res.Escalation.ID), apperr.ErrForbidden))
	require.NoError(t, h.engine.Withdraw(ctx, admin, res.Escalation.ID))
	assert.Zero(t, h.clock.Pending())
	_, err = h.store.GetEscalation(ctx, res.Escalation.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	res, err = h.engine.Report(ctx, delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	assert.True(t, errors.Is(h.engine.Withdraw(ctx, admin, res.Escalation.ID), apperr.ErrConflict))
}

func TestRelay(t *testing.T) {
	h := newHarness(t, nil, nil)
	relay := &recordingRelay{}
	h.engine.SetRelay(relay)

	res, err := h.engine.Report(context.Background(), delhi(models.SeverityHigh, models.SourceManual))
	require.NoError(t, err)
	_, err = h.engine.Report(context.Background(), delhi(models.SeverityLow, models.SourceManual))
	require.NoError(t, err)
	h.engine.Wait()

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []string{res.Escalation.ID}, relay.ids)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)

	_, err := h.engine.Report(ctx, delhi(models.SeverityLow, models.SourceManual))
	require.NoError(t, err)

	_, err = h.engine.Notify(ctx, volunteer, "all", "hello")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = h.engine.Notify(ctx, admin, "vol-1", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	h.rec.Reset()
	direct, err := h.engine.Notify(ctx, admin, "vol-1", "Report to the Yamuna camp")
	require.NoError(t, err)
	private, err := h.engine.Notify(ctx, admin, "vol-2", "Private")
	require.NoError(t, err)
	_, err = h.engine.Notify(ctx, admin, "admin", "Shift change at 18:00")
	require.NoError(t, err)
	_, err = h.engine.Notify(ctx, admin, "", "Stay indoors")
	require.NoError(t, err)

	pushed := h.rec.To(fanout.User("vol-1"))
	require.Len(t, pushed, 1)
	assert.Equal(t, models.EventNotification, pushed[0].Envelope.Event)
	var ev models.NotificationEvent
	require.NoError(t, json.Unmarshal(pushed[0].Envelope.Data, &ev))
	assert.Equal(t, direct.ID, ev.NotificationID)
	assert.Equal(t, "Report to the Yamuna camp", ev.Message)
	assert.Equal(t, []string{models.EventNotification}, h.rec.Events(fanout.User("vol-2")))
	assert.Equal(t, []string{models.EventNotification}, h.rec.Events(fanout.Role(models.RoleAdmin)))
	assert.Equal(t, []string{models.EventNotification}, h.rec.Events(fanout.All()))

	list, err := h.engine.Notifications(ctx, volunteer, 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	n, err := h.engine.MarkRead(ctx, volunteer, direct.ID)
	require.NoError(t, err)
	assert.True(t, n.Read)

	_, err = h.engine.MarkRead(ctx, volunteer, private.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = h.engine.MarkRead(ctx, volunteer, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	res, err := h.engine.Report(ctx, delhi(models.SeverityLow, models.SourceManual))
	require.NoError(t, err)

	_, err = h.engine.SetStatus(ctx, volunteer, res.Disaster.ID, models.DisasterResolved)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = h.engine.SetStatus(ctx, admin, res.Disaster.ID, "gone")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	d, err := h.engine.SetStatus(ctx, admin, res.Disaster.ID, models.DisasterResolved)
	require.NoError(t, err)
	assert.Equal(t, models.DisasterResolved, d.Status)
}
