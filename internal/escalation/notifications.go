package escalation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"relief-service/internal/apperr"
	"relief-service/internal/fanout"
	"relief-service/internal/models"
)

// recipients are the notification addresses visible to an actor.
func recipients(actor models.Identity) []string {
	out := []string{models.RecipientAll}
	if actor.UserID != "" {
		out = append(out, actor.UserID)
	}
	if actor.Role.Valid() {
		out = append(out, string(actor.Role))
	}
	return out
}

// Notifications lists the notifications addressed to the actor, everyone, or the actor's role.
func (e *Engine) Notifications(ctx context.Context, actor models.Identity, limit, offset int) ([]models.Notification, error) {
	return e.store.ListNotifications(ctx, recipients(actor), limit, offset)
}

// Notify stores an administrator-authored notification.
func (e *Engine) Notify(ctx context.Context, actor models.Identity, recipient, message string) (models.Notification, error) {
	if !actor.IsAdmin() {
		return models.Notification{}, apperr.Forbidden("only administrators can send notifications")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		recipient = models.RecipientAll
	}
	if strings.TrimSpace(message) == "" {
		return models.Notification{}, apperr.Validation("message is required")
	}
	n := models.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Recipient: recipient,
		CreatedAt: e.clock.Now(),
	}
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		return e.store.CreateNotification(ctx, n)
	})
	if err != nil {
		return models.Notification{}, err
	}
	e.logger.Infof("Notification %s sent to %s by %s", n.ID, recipient, actor.UserID)
	e.pushNotification(ctx, n)
	return n, nil
}

// recipientTarget maps a notification recipient onto its room.
func recipientTarget(recipient string) fanout.Target {
	if recipient == models.RecipientAll {
		return fanout.All()
	}
	if role := models.Role(recipient); role.Valid() {
		return fanout.Role(role)
	}
	return fanout.User(recipient)
}

func (e *Engine) pushNotification(ctx context.Context, n models.Notification) {
	intent, err := fanout.To(recipientTarget(n.Recipient), models.NotificationEvent{
		NotificationID: n.ID,
		Recipient:      n.Recipient,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt,
	}, n.CreatedAt)
	if err == nil {
		err = e.publisher.Publish(ctx, intent)
	}
	if err != nil {
		e.logger.Errorf("Failed to push notification %s: %v", n.ID, err)
	}
}

// MarkRead flags a notification as read. Only notifications visible to the actor can be marked.
func (e *Engine) MarkRead(ctx context.Context, actor models.Identity, id string) (models.Notification, error) {
	var n models.Notification
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = e.store.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		visible := false
		for _, r := range recipients(actor) {
			if n.Recipient == r {
				visible = true
				break
			}
		}
		if !visible {
			return apperr.Forbidden("notification %s is not addressed to %s", id, actor.UserID)
		}
		if err := e.store.MarkNotificationRead(ctx, id); err != nil {
			return err
		}
		n.Read = true
		return nil
	})
	return n, err
}
