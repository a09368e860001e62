// Package api exposes the relief service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relief-service/internal/apperr"
	"relief-service/internal/auth"
	"relief-service/internal/clock"
	"relief-service/internal/escalation"
	"relief-service/internal/fanout"
	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/sweep"
	"relief-service/internal/tasks"
	"relief-service/internal/tickets"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// VolunteerStore is the volunteer persistence used for registration.
type VolunteerStore interface {
	CreateVolunteer(ctx context.Context, v models.Volunteer) error
	GetVolunteer(ctx context.Context, id string) (models.Volunteer, error)
}

// Sweeper runs an expiry pass on demand.
type Sweeper interface {
	Run(ctx context.Context) (sweep.Summary, error)
}

// Services are the collaborators behind the HTTP handlers.
type Services struct {
	Engine     *escalation.Engine
	Tickets    *tickets.Manager
	Tasks      *tasks.Manager
	Sweeper    Sweeper
	Router     *fanout.Router
	Volunteers VolunteerStore
	Tokens     *auth.Tokens
	Realtime   http.Handler
	Clock      clock.Clock
}

type Handler struct {
	svc    Services
	logger *logging.Logger
}

func NewHandler(svc Services, logger *logging.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("%s failed: %v", op, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.logger.Debugf("%s rejected: %v", op, err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.Debugf("Invalid request body: %v", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// page reads limit and offset query parameters.
func page(c *gin.Context) (int, int, error) {
	limit, offset := defaultLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, apperr.Validation("invalid limit %q", v)
		}
		limit = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperr.Validation("invalid offset %q", v)
		}
		offset = n
	}
	return limit, offset, nil
}

// sweepFirst expires overdue commitments so listings never show stale state.
func (h *Handler) sweepFirst(c *gin.Context) {
	if h.svc.Sweeper == nil {
		return
	}
	if _, err := h.svc.Sweeper.Run(c.Request.Context()); err != nil {
		h.logger.Warnf("Pre-list sweep failed: %v", err)
	}
}
