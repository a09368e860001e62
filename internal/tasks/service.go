// Package tasks manages admin-defined volunteer tasks through claim,
// submission and review.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relief-service/internal/apperr"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/fanout"
	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/worker"
)

type Store interface {
	GetDisaster(ctx context.Context, id string) (models.Disaster, error)
	CreateTask(ctx context.Context, t models.Task) error
	GetTask(ctx context.Context, id string) (models.Task, error)
	ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	ListTasksByVolunteer(ctx context.Context, volunteerID string) ([]models.Task, error)
	ListExpiredTasks(ctx context.Context, now time.Time) ([]models.Task, error)
	UpdateTask(ctx context.Context, t models.Task, from models.TaskStatus) (bool, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Ledger interface {
	EnsureNotBanned(ctx context.Context, volunteerID string) (models.Volunteer, error)
	Credit(ctx context.Context, volunteerID string, points int, reason string) (models.Reputation, error)
	PenalizeForExpiredTask(ctx context.Context, volunteerID string, points int) (models.Reputation, error)
}

type Manager struct {
	store     Store
	ledger    Ledger
	publisher fanout.Publisher
	exec      worker.Executor
	clock     clock.Clock
	logger    *logging.Logger
	cfg       config.Engagement
}

func NewManager(store Store, ledger Ledger, publisher fanout.Publisher, exec worker.Executor, clk clock.Clock, logger *logging.Logger, cfg config.Engagement) *Manager {
	return &Manager{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		exec:      exec,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create opens a new task on a disaster.
func (m *Manager) Create(ctx context.Context, actor models.Identity, disasterID, kind, description string) (models.Task, error) {
	if !actor.IsAdmin() {
		return models.Task{}, apperr.Forbidden("only administrators can create tasks")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return models.Task{}, apperr.Validation("kind is required")
	}
	t := models.Task{
		ID:          uuid.NewString(),
		DisasterID:  disasterID,
		Kind:        kind,
		Description: strings.TrimSpace(description),
		Status:      models.TaskOpen,
		CreatedBy:   actor.UserID,
	}
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		if _, err := m.store.GetDisaster(ctx, disasterID); err != nil {
			return err
		}
		t.CreatedAt = m.clock.Now()
		return m.store.CreateTask(ctx, t)
	})
	if err != nil {
		return models.Task{}, err
	}
	m.logger.Infof("Task %s (%s) created for disaster %s", t.ID, t.Kind, t.DisasterID)
	return t, nil
}

// Claim assigns an open task to the actor and starts its deadline.
func (m *Manager) Claim(ctx context.Context, actor models.Identity, taskID string) (models.Task, error) {
	var t models.Task
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		if _, err := m.ledger.EnsureNotBanned(ctx, actor.UserID); err != nil {
			return err
		}
		var err error
		t, err = m.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskOpen {
			return apperr.Conflict("task %s is %s", taskID, t.Status)
		}
		now := m.clock.Now()
		deadline := now.Add(m.cfg.TaskDeadline)
		volunteerID := actor.UserID
		next := t
		next.Status = models.TaskClaimed
		next.AssignedTo = &volunteerID
		next.ClaimedAt = &now
		next.Deadline = &deadline
		ok, err := m.store.UpdateTask(ctx, next, models.TaskOpen)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("task %s was claimed by someone else", taskID)
		}
		t = next
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	m.logger.Infof("Task %s claimed by %s, due %s", t.ID, actor.UserID, t.Deadline.Format(time.RFC3339))
	return t, nil
}

// Submit attaches proof to a claimed task. A submission after the deadline
// expires the task instead.
func (m *Manager) Submit(ctx context.Context, actor models.Identity, taskID, proof string) (models.Task, error) {
	var t models.Task
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.AssignedVolunteer() != actor.UserID {
			return apperr.Forbidden("task %s is not assigned to %s", taskID, actor.UserID)
		}
		if strings.TrimSpace(proof) == "" {
			return apperr.Validation("proof is required")
		}
		if t.Status != models.TaskClaimed {
			return apperr.Conflict("task %s is %s", taskID, t.Status)
		}
		if t.Deadline != nil && t.Deadline.Before(m.clock.Now()) {
			if _, err := m.Expire(ctx, t); err != nil {
				return err
			}
			return apperr.Conflict("task %s deadline passed at %s", taskID, t.Deadline.Format(time.RFC3339))
		}

		next := t
		next.Status = models.TaskSubmitted
		next.Proof = strings.TrimSpace(proof)
		ok, err := m.store.UpdateTask(ctx, next, models.TaskClaimed)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("task %s changed concurrently", taskID)
		}
		t = next
		m.notify(ctx, fanout.Role(models.RoleAdmin), models.EventTaskSubmitted, t)
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	m.logger.Infof("Task %s submitted by %s", t.ID, actor.UserID)
	return t, nil
}

// Verify records the review of a submitted task. Approval credits the fixed bonus.
func (m *Manager) Verify(ctx context.Context, actor models.Identity, taskID string, approve bool, feedback string) (models.Task, error) {
	if !actor.IsAdmin() {
		return models.Task{}, apperr.Forbidden("only administrators can verify tasks")
	}
	var t models.Task
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskSubmitted {
			return apperr.Conflict("task %s is %s, not submitted", taskID, t.Status)
		}
		next := t
		next.Feedback = strings.TrimSpace(feedback)
		event := models.EventTaskRejected
		next.Status = models.TaskRejected
		if approve {
			next.Status = models.TaskApproved
			event = models.EventTaskApproved
		}
		ok, err := m.store.UpdateTask(ctx, next, models.TaskSubmitted)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("task %s changed concurrently", taskID)
		}
		t = next

		volunteerID := t.AssignedVolunteer()
		if approve {
			if _, err := m.ledger.Credit(ctx, volunteerID, m.cfg.TaskApprovalPoints, "task approved"); err != nil {
				return fmt.Errorf("failed to credit volunteer %s: %w", volunteerID, err)
			}
		}
		m.notify(ctx, fanout.User(volunteerID), event, t)
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	m.logger.Infof("Task %s %s by %s", t.ID, t.Status, actor.UserID)
	return t, nil
}

// Expire moves an overdue claimed task to expired and penalizes the assignee
// in the same transaction. It reports false when the task no longer
// qualifies. Callers must already be running on the executor.
func (m *Manager) Expire(ctx context.Context, t models.Task) (bool, error) {
	if t.Status != models.TaskClaimed || t.Deadline == nil || !t.Deadline.Before(m.clock.Now()) {
		return false, nil
	}
	next := t
	next.Status = models.TaskExpired
	volunteerID := t.AssignedVolunteer()
	expired := false
	err := m.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := m.store.UpdateTask(ctx, next, models.TaskClaimed)
		if err != nil {
			return fmt.Errorf("failed to expire task %s: %w", t.ID, err)
		}
		if !ok {
			return nil
		}
		if _, err := m.ledger.PenalizeForExpiredTask(ctx, volunteerID, m.cfg.TaskPenaltyPoints); err != nil {
			return fmt.Errorf("failed to penalize for expired task %s: %w", t.ID, err)
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}
	m.logger.Infof("Task %s of volunteer %s expired", t.ID, volunteerID)
	return true, nil
}

// Overdue lists claimed tasks whose deadline has passed.
func (m *Manager) Overdue(ctx context.Context) ([]models.Task, error) {
	return m.store.ListExpiredTasks(ctx, m.clock.Now())
}

func (m *Manager) notify(ctx context.Context, target fanout.Target, event string, t models.Task) {
	intent, err := fanout.To(target, models.TaskEvent{
		Name:        event,
		TaskID:      t.ID,
		DisasterID:  t.DisasterID,
		VolunteerID: t.AssignedVolunteer(),
		Status:      t.Status,
		Feedback:    t.Feedback,
	}, m.clock.Now())
	if err != nil {
		m.logger.Errorf("Failed to build %s for task %s: %v", event, t.ID, err)
		return
	}
	if err := m.publisher.Publish(ctx, intent); err != nil {
		m.logger.Errorf("Failed to publish %s for task %s: %v", event, t.ID, err)
	}
}

// Get returns a task. An overdue claimed task is expired before it is returned.
func (m *Manager) Get(ctx context.Context, id string) (models.Task, error) {
	var t models.Task
	err := m.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = m.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		expired, err := m.Expire(ctx, t)
		if err != nil {
			return err
		}
		if expired {
			t, err = m.store.GetTask(ctx, id)
		}
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// List returns tasks, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	if status != "" && !validStatus(status) {
		return nil, apperr.Validation("invalid task status %q", status)
	}
	return m.store.ListTasks(ctx, status)
}

func (m *Manager) ListForVolunteer(ctx context.Context, volunteerID string) ([]models.Task, error) {
	return m.store.ListTasksByVolunteer(ctx, volunteerID)
}

func validStatus(s models.TaskStatus) bool {
	switch s {
	case models.TaskOpen, models.TaskClaimed, models.TaskSubmitted, models.TaskApproved, models.TaskRejected, models.TaskExpired:
		return true
	}
	return false
}
