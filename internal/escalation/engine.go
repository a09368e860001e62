// Package escalation turns disaster reports into persisted notifications,
// tiered real-time alerts and, for high severity, emergency escalations.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relief-service/internal/advisor"
	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/fanout"
	"relief-service/internal/logging"
	"relief-service/internal/metrics"
	"relief-service/internal/models"
	"relief-service/internal/worker"
)

// Store is the persistence used by the engine.
type Store interface {
	CreateDisaster(ctx context.Context, d models.Disaster) error
	GetDisaster(ctx context.Context, id string) (models.Disaster, error)
	ListDisasters(ctx context.Context, limit, offset int) ([]models.Disaster, error)
	UpdateDisasterStatus(ctx context.Context, id string, status models.DisasterStatus) (models.Disaster, error)

	CreateNotification(ctx context.Context, n models.Notification) error
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	ListNotifications(ctx context.Context, recipients []string, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	CreateEscalation(ctx context.Context, e models.Escalation) error
	GetEscalation(ctx context.Context, id string) (models.Escalation, error)
	ListEscalations(ctx context.Context, limit, offset int) ([]models.Escalation, error)
	MarkEscalationNotified(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteEscalation(ctx context.Context, id string) error
}

// Relay forwards new escalations to an operations channel.
type Relay interface {
	RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error
}

// DefaultUnits are named in the public response-team broadcast.
var DefaultUnits = []string{"CRPF Rapid Action Force", "NDRF Response Team"}

// confirmWait bounds how long a due confirmation waits for the executor.
const confirmWait = 30 * time.Second

// Report is an incoming disaster report.
type Report struct {
	Type       string          `json:"type"`
	Location   models.Location `json:"location"`
	Severity   models.Severity `json:"severity"`
	Source     models.Source   `json:"source"`
	ReporterID string          `json:"reporter_id,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}

// Result is what a report produced.
type Result struct {
	Disaster     models.Disaster     `json:"disaster"`
	Notification models.Notification `json:"notification"`
	Escalation   *models.Escalation  `json:"escalation,omitempty"`
}

type Engine struct {
	store     Store
	advisor   advisor.Advisor
	publisher fanout.Publisher
	exec      worker.Executor
	clock     clock.Clock
	logger    *logging.Logger
	cfg       config.Engagement
	units     []string
	relay     Relay

	mu      sync.Mutex
	timers  map[string]clock.Timer
	stopped bool
	relays  sync.WaitGroup
}

func NewEngine(store Store, adv advisor.Advisor, publisher fanout.Publisher, exec worker.Executor, clk clock.Clock, logger *logging.Logger, cfg config.Engagement) *Engine {
	return &Engine{
		store:     store,
		advisor:   adv,
		publisher: publisher,
		exec:      exec,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
		units:     DefaultUnits,
		timers:    make(map[string]clock.Timer),
	}
}

// SetRelay enables forwarding of escalations.
func (e *Engine) SetRelay(r Relay) {
	e.relay = r
}

// Wait blocks until in-flight relays have finished.
func (e *Engine) Wait() {
	e.relays.Wait()
}

func validate(r Report) error {
	if strings.TrimSpace(r.Type) == "" {
		return apperr.Validation("type is required")
	}
	if !r.Severity.Valid() {
		return apperr.Validation("invalid severity %q", r.Severity)
	}
	if !r.Source.Valid() {
		return apperr.Validation("invalid source %q", r.Source)
	}
	loc := r.Location
	if (loc.Lat == nil) != (loc.Lng == nil) {
		return apperr.Validation("lat and lng must be given together")
	}
	if loc.HasCoordinates() && !fanout.ValidPoint(*loc.Lat, *loc.Lng) {
		return apperr.Validation("invalid coordinates %.6f,%.6f", *loc.Lat, *loc.Lng)
	}
	if loc.Room() == "" && !loc.HasCoordinates() {
		return apperr.Validation("location needs city and state or coordinates")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return apperr.Validation("confidence must be between 0 and 1")
	}
	return nil
}

func (e *Engine) escalates(d models.Disaster) bool {
	if d.Severity != models.SeverityHigh {
		return false
	}
	if d.Source == models.SourceManual {
		return e.cfg.EscalateManualReports
	}
	return true
}

// Report validates and persists a disaster, then publishes its alerts. The
// advisory lookup happens before the transition is queued so a slow advisor
// never holds the executor.
func (e *Engine) Report(ctx context.Context, r Report) (Result, error) {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if err := validate(r); err != nil {
		return Result{}, err
	}

	severity := r.Severity
	if r.Source != models.SourceManual && e.cfg.MinAIConfidence > 0 && r.Confidence < e.cfg.MinAIConfidence {
		severity = r.Severity.Lower()
		e.logger.Warnf("Low confidence %.2f for %s report, severity %s lowered to %s", r.Confidence, r.Source, r.Severity, severity)
	}

	advisory, err := e.advisor.Advise(ctx, r.Type, severity)
	if err != nil {
		e.logger.Warnf("Advisory lookup failed for %s/%s, using generic text: %v", r.Type, severity, err)
		advisory = advisor.Generic
	}

	var res Result
	err = e.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.report(ctx, r, severity, advisory)
		return err
	})
	return res, err
}

func (e *Engine) report(ctx context.Context, r Report, severity models.Severity, advisory string) (Result, error) {
	now := e.clock.Now()
	d := models.Disaster{
		ID:         uuid.NewString(),
		Type:       r.Type,
		Location:   r.Location,
		Severity:   severity,
		Source:     r.Source,
		Status:     models.DisasterActive,
		ReporterID: r.ReporterID,
		Confidence: r.Confidence,
		CreatedAt:  now,
	}
	if err := e.store.CreateDisaster(ctx, d); err != nil {
		return Result{}, fmt.Errorf("failed to persist disaster: %w", err)
	}

	n := models.Notification{
		ID:           uuid.NewString(),
		DisasterID:   d.ID,
		DisasterType: d.Type,
		Location:     d.Location,
		Severity:     d.Severity,
		Message:      alertMessage(d),
		Advisory:     advisory,
		Recipient:    models.RecipientAll,
		CreatedAt:    now,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return Result{}, fmt.Errorf("failed to persist notification: %w", err)
	}
	res := Result{Disaster: d, Notification: n}

	if e.escalates(d) {
		esc := models.Escalation{
			ID:          uuid.NewString(),
			DisasterID:  d.ID,
			EscalatedBy: d.ReporterID,
			Status:      models.EscalationPending,
			CreatedAt:   now,
		}
		if err := e.store.CreateEscalation(ctx, esc); err != nil {
			return Result{}, fmt.Errorf("failed to persist escalation: %w", err)
		}
		res.Escalation = &esc
		metrics.EscalationsTotal.Inc()
		e.scheduleConfirmation(esc.ID)
		e.logger.Infof("Disaster %s escalated as %s", d.ID, esc.ID)
	}

	metrics.ReportsTotal.WithLabelValues(string(d.Severity), string(d.Source)).Inc()
	e.publishAlerts(ctx, res, now)
	if res.Escalation != nil {
		e.relayAsync(d, *res.Escalation)
	}
	e.logger.Infof("Disaster %s reported: type=%s severity=%s source=%s", d.ID, d.Type, d.Severity, d.Source)
	return res, nil
}

func alertMessage(d models.Disaster) string {
	sev := string(d.Severity)
	return fmt.Sprintf("%s%s severity %s reported in %s", strings.ToUpper(sev[:1]), sev[1:], d.Type, describe(d.Location))
}

func describe(loc models.Location) string {
	if loc.City != "" && loc.State != "" {
		return fmt.Sprintf("%s, %s", loc.City, loc.State)
	}
	if loc.HasCoordinates() {
		return fmt.Sprintf("%.4f,%.4f", *loc.Lat, *loc.Lng)
	}
	return "an unspecified location"
}

// publishAlerts sends the tiered alerts. Failures are logged only; the
// persisted records stand.
func (e *Engine) publishAlerts(ctx context.Context, res Result, at time.Time) {
	d := res.Disaster
	alert := models.DisasterAlert{
		DisasterID: d.ID,
		Type:       d.Type,
		Location:   d.Location,
		Severity:   d.Severity,
		Message:    res.Notification.Message,
		Advisory:   res.Notification.Advisory,
		ReportedAt: d.CreatedAt,
	}
	local := alert
	local.Local = true

	var intents []fanout.Intent
	add := func(in fanout.Intent, err error) {
		if err != nil {
			e.logger.Errorf("Failed to build alert for disaster %s: %v", d.ID, err)
			return
		}
		intents = append(intents, in)
	}

	add(fanout.Nearby(d.Location.Lat, d.Location.Lng, e.cfg.NearbyRadiusKm, d.Location.Room(), local, alert, at))
	if res.Escalation != nil {
		add(fanout.To(fanout.Role(models.RoleAdmin), models.ExtremeAlert{
			EscalationID: res.Escalation.ID,
			DisasterID:   d.ID,
			Type:         d.Type,
			Location:     d.Location,
			Status:       string(res.Escalation.Status),
			Message:      "CRPF teams notified",
		}, at))
		add(fanout.To(fanout.All(), models.CRPFNotice{
			DisasterID: d.ID,
			Type:       d.Type,
			Location:   d.Location,
			Units:      e.units,
			Message:    fmt.Sprintf("%s dispatched to %s", strings.Join(e.units, " and "), describe(d.Location)),
		}, at))
	}

	for _, in := range intents {
		if err := e.publisher.Publish(ctx, in); err != nil {
			e.logger.Errorf("Failed to publish alert for disaster %s: %v", d.ID, err)
		}
	}
}

func (e *Engine) relayAsync(d models.Disaster, esc models.Escalation) {
	if e.relay == nil {
		return
	}
	e.relays.Add(1)
	go func() {
		defer e.relays.Done()
		if err := e.relay.RelayEscalation(context.Background(), d, esc); err != nil {
			e.logger.Errorf("Failed to relay escalation %s: %v", esc.ID, err)
		}
	}()
}

// scheduleConfirmation confirms the escalation after ConfirmationDelay. A
// confirmation that cannot run on the executor is scheduled again.
func (e *Engine) scheduleConfirmation(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.timers[id] = e.clock.AfterFunc(e.cfg.ConfirmationDelay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), confirmWait)
		defer cancel()
		err := e.exec.Do(ctx, func(ctx context.Context) error {
			return e.confirm(ctx, id)
		})
		if err == nil {
			return
		}
		if errors.Is(err, worker.ErrStopped) {
			e.logger.Warnf("Executor stopped before escalation %s was confirmed", id)
			return
		}
		e.logger.Errorf("Failed to confirm escalation %s, retrying in %s: %v", id, e.cfg.ConfirmationDelay, err)
		e.scheduleConfirmation(id)
	})
}

// ConfirmEscalation moves a pending escalation to notified. Missing or already
// notified escalations are left alone.
func (e *Engine) ConfirmEscalation(ctx context.Context, id string) error {
	return e.exec.Do(ctx, func(ctx context.Context) error {
		return e.confirm(ctx, id)
	})
}

func (e *Engine) confirm(ctx context.Context, id string) error {
	ok, err := e.store.MarkEscalationNotified(ctx, id, e.clock.Now())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			e.logger.Debugf("Escalation %s gone before confirmation", id)
			return nil
		}
		return fmt.Errorf("failed to confirm escalation %s: %w", id, err)
	}
	if ok {
		e.logger.Infof("Escalation %s confirmed", id)
	}
	return nil
}

// MarkNotified is the administrator acknowledgment of an escalation.
func (e *Engine) MarkNotified(ctx context.Context, actor models.Identity, id string) (models.Escalation, error) {
	if !actor.IsAdmin() {
		return models.Escalation{}, apperr.Forbidden("only administrators can acknowledge escalations")
	}
	var esc models.Escalation
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		if _, err := e.store.GetEscalation(ctx, id); err != nil {
			return err
		}
		ok, err := e.store.MarkEscalationNotified(ctx, id, e.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("escalation %s already notified", id)
		}
		e.cancelTimer(id)
		esc, err = e.store.GetEscalation(ctx, id)
		return err
	})
	if err == nil {
		e.logger.Infof("Escalation %s acknowledged by %s", id, actor.UserID)
	}
	return esc, err
}

// Withdraw removes a pending escalation raised by a false report.
func (e *Engine) Withdraw(ctx context.Context, actor models.Identity, id string) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("only administrators can withdraw escalations")
	}
	return e.exec.Do(ctx, func(ctx context.Context) error {
		esc, err := e.store.GetEscalation(ctx, id)
		if err != nil {
			return err
		}
		if esc.Status != models.EscalationPending {
			return apperr.Conflict("escalation %s is %s", id, esc.Status)
		}
		e.cancelTimer(id)
		if err := e.store.DeleteEscalation(ctx, id); err != nil {
			return err
		}
		e.logger.Infof("Escalation %s withdrawn by %s", id, actor.UserID)
		return nil
	})
}

func (e *Engine) cancelTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// Stop cancels every pending confirmation.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) Disaster(ctx context.Context, id string) (models.Disaster, error) {
	return e.store.GetDisaster(ctx, id)
}

func (e *Engine) Disasters(ctx context.Context, limit, offset int) ([]models.Disaster, error) {
	return e.store.ListDisasters(ctx, limit, offset)
}

func (e *Engine) Escalations(ctx context.Context, actor models.Identity, limit, offset int) ([]models.Escalation, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can list escalations")
	}
	return e.store.ListEscalations(ctx, limit, offset)
}

// SetStatus changes the lifecycle status of a disaster.
func (e *Engine) SetStatus(ctx context.Context, actor models.Identity, id string, status models.DisasterStatus) (models.Disaster, error) {
	if !actor.IsAdmin() {
		return models.Disaster{}, apperr.Forbidden("only administrators can change disaster status")
	}
	if !status.Valid() {
		return models.Disaster{}, apperr.Validation("invalid status %q", status)
	}
	var d models.Disaster
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		d, err = e.store.UpdateDisasterStatus(ctx, id, status)
		return err
	})
	return d, err
}
