// Package memstore is an in-process implementation of the record store. It
// backs STORE=memory deployments and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"relief-service/internal/apperr"
	"relief-service/internal/models"
)

type Store struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	disasters     map[string]models.Disaster
	notifications map[string]models.Notification
	escalations   map[string]models.Escalation
	subscriptions map[string]models.Subscription
	volunteers    map[string]models.Volunteer
	tickets       map[string]models.HelpTicket
	tasks         map[string]models.Task
}

func New() *Store {
	return &Store{
		disasters:     make(map[string]models.Disaster),
		notifications: make(map[string]models.Notification),
		escalations:   make(map[string]models.Escalation),
		subscriptions: make(map[string]models.Subscription),
		volunteers:    make(map[string]models.Volunteer),
		tickets:       make(map[string]models.HelpTicket),
		tasks:         make(map[string]models.Task),
	}
}

type txKey struct{}

func clone[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RunInTx runs fn and restores every table if it fails. Transactions are
// serialized; a nested call joins the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := Store{
		disasters:     clone(s.disasters),
		notifications: clone(s.notifications),
		escalations:   clone(s.escalations),
		subscriptions: clone(s.subscriptions),
		volunteers:    clone(s.volunteers),
		tickets:       clone(s.tickets),
		tasks:         clone(s.tasks),
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.mu.Lock()
		s.disasters = snapshot.disasters
		s.notifications = snapshot.notifications
		s.escalations = snapshot.escalations
		s.subscriptions = snapshot.subscriptions
		s.volunteers = snapshot.volunteers
		s.tickets = snapshot.tickets
		s.tasks = snapshot.tasks
		s.mu.Unlock()
		return err
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Disasters

func (s *Store) CreateDisaster(ctx context.Context, d models.Disaster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disasters[d.ID]; ok {
		return apperr.Conflict("disaster %s already exists", d.ID)
	}
	s.disasters[d.ID] = d
	return nil
}

func (s *Store) GetDisaster(ctx context.Context, id string) (models.Disaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disasters[id]
	if !ok {
		return models.Disaster{}, apperr.NotFound("disaster %s", id)
	}
	return d, nil
}

func (s *Store) ListDisasters(ctx context.Context, limit, offset int) ([]models.Disaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Disaster, 0, len(s.disasters))
	for _, d := range s.disasters {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

func (s *Store) UpdateDisasterStatus(ctx context.Context, id string, status models.DisasterStatus) (models.Disaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disasters[id]
	if !ok {
		return models.Disaster{}, apperr.NotFound("disaster %s", id)
	}
	d.Status = status
	s.disasters[id] = d
	return d, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return models.Notification{}, apperr.NotFound("notification %s", id)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipients []string, limit, offset int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		want[r] = true
	}
	list := []models.Notification{}
	for _, n := range s.notifications {
		if len(want) == 0 || want[n.Recipient] {
			list = append(list, n)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return apperr.NotFound("notification %s", id)
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// Escalations

func (s *Store) CreateEscalation(ctx context.Context, e models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.escalations {
		if existing.DisasterID == e.DisasterID {
			return apperr.Conflict("disaster %s already escalated", e.DisasterID)
		}
	}
	s.escalations[e.ID] = e
	return nil
}

func (s *Store) GetEscalation(ctx context.Context, id string) (models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escalations[id]
	if !ok {
		return models.Escalation{}, apperr.NotFound("escalation %s", id)
	}
	return e, nil
}

func (s *Store) ListEscalations(ctx context.Context, limit, offset int) ([]models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Escalation, 0, len(s.escalations))
	for _, e := range s.escalations {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

func (s *Store) MarkEscalationNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[id]
	if !ok || e.Status != models.EscalationPending {
		return false, nil
	}
	e.Status = models.EscalationNotified
	e.NotifiedAt = &at
	s.escalations[id] = e
	return true, nil
}

// DeleteEscalation removes an escalation record. Administrators use it to
// withdraw false reports.
func (s *Store) DeleteEscalation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.escalations, id)
	return nil
}

// Subscriptions

func (s *Store) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ConnectionID] = sub
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, connectionID string) (models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[connectionID]
	if !ok {
		return models.Subscription{}, apperr.NotFound("subscription %s", connectionID)
	}
	return sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, connectionID)
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectionID < list[j].ConnectionID })
	return list, nil
}

// Volunteers

func (s *Store) CreateVolunteer(ctx context.Context, v models.Volunteer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volunteers[v.ID]; ok {
		return apperr.Conflict("volunteer %s already exists", v.ID)
	}
	s.volunteers[v.ID] = v
	return nil
}

func (s *Store) GetVolunteer(ctx context.Context, id string) (models.Volunteer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volunteers[id]
	if !ok {
		return models.Volunteer{}, apperr.NotFound("volunteer %s", id)
	}
	return v, nil
}

func (s *Store) SaveReputation(ctx context.Context, id string, rep models.Reputation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volunteers[id]
	if !ok {
		return apperr.NotFound("volunteer %s", id)
	}
	v.Reputation = rep
	s.volunteers[id] = v
	return nil
}

// Help tickets

func copyTicket(t models.HelpTicket) models.HelpTicket {
	t.Proofs = append([]string(nil), t.Proofs...)
	return t
}

func (s *Store) CreateTicket(ctx context.Context, t models.HelpTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		if existing.VolunteerID == t.VolunteerID && existing.DisasterID == t.DisasterID && existing.Status.Active() {
			return apperr.Conflict("volunteer %s already has an active ticket for disaster %s", t.VolunteerID, t.DisasterID)
		}
	}
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.HelpTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.HelpTicket{}, apperr.NotFound("help ticket %s", id)
	}
	return copyTicket(t), nil
}

func (s *Store) HasActiveTicket(ctx context.Context, volunteerID, disasterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.VolunteerID == volunteerID && t.DisasterID == disasterID && t.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) listTickets(match func(models.HelpTicket) bool) []models.HelpTicket {
	list := []models.HelpTicket{}
	for _, t := range s.tickets {
		if match(t) {
			list = append(list, copyTicket(t))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SignedUpAt.Before(list[j].SignedUpAt) })
	return list
}

func (s *Store) ListTicketsByVolunteer(ctx context.Context, volunteerID string) ([]models.HelpTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTickets(func(t models.HelpTicket) bool { return t.VolunteerID == volunteerID }), nil
}

func (s *Store) ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]models.HelpTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTickets(func(t models.HelpTicket) bool { return t.Status == status }), nil
}

func (s *Store) ListExpiredTickets(ctx context.Context, now time.Time) ([]models.HelpTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTickets(func(t models.HelpTicket) bool {
		return t.Status == models.TicketSignedUp && !t.ScoreDeducted && t.ExpiresAt.Before(now)
	}), nil
}

func (s *Store) UpdateTicket(ctx context.Context, t models.HelpTicket, from models.TicketStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tickets[t.ID]
	if !ok {
		return false, apperr.NotFound("help ticket %s", t.ID)
	}
	if cur.Status != from || cur.ScoreDeducted {
		return false, nil
	}
	s.tickets[t.ID] = copyTicket(t)
	return true, nil
}

// Tasks

func (s *Store) CreateTask(ctx context.Context, t models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, apperr.NotFound("task %s", id)
	}
	return t, nil
}

func (s *Store) listTasks(match func(models.Task) bool) []models.Task {
	list := []models.Task{}
	for _, t := range s.tasks {
		if match(t) {
			list = append(list, t)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasks(func(t models.Task) bool { return status == "" || t.Status == status }), nil
}

func (s *Store) ListTasksByVolunteer(ctx context.Context, volunteerID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasks(func(t models.Task) bool { return t.AssignedVolunteer() == volunteerID }), nil
}

func (s *Store) ListExpiredTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasks(func(t models.Task) bool {
		return t.Status == models.TaskClaimed && t.Deadline != nil && t.Deadline.Before(now)
	}), nil
}

func (s *Store) UpdateTask(ctx context.Context, t models.Task, from models.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return false, apperr.NotFound("task %s", t.ID)
	}
	if cur.Status != from {
		return false, nil
	}
	s.tasks[t.ID] = t
	return true, nil
}
