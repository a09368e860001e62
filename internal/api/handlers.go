package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relief-service/internal/apperr"
	"relief-service/internal/escalation"
	"relief-service/internal/models"
)

type reportRequest struct {
	Type       string          `json:"type" binding:"required"`
	Location   models.Location `json:"location"`
	Severity   models.Severity `json:"severity" binding:"required"`
	Source     models.Source   `json:"source"`
	Confidence float64         `json:"confidence"`
}

func (h *Handler) ReportDisaster(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Source == "" {
		req.Source = models.SourceManual
	}
	res, err := h.svc.Engine.Report(c.Request.Context(), escalation.Report{
		Type:       req.Type,
		Location:   req.Location,
		Severity:   req.Severity,
		Source:     req.Source,
		ReporterID: actor(c).UserID,
		Confidence: req.Confidence,
	})
	if err != nil {
		h.respondError(c, "Report disaster", err)
		return
	}
	h.logger.Infof("Disaster %s reported by %s", res.Disaster.ID, actor(c).UserID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListDisasters(c *gin.Context) {
	limit, offset, err := page(c)
	if err != nil {
		h.respondError(c, "List disasters", err)
		return
	}
	disasters, err := h.svc.Engine.Disasters(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, "List disasters", err)
		return
	}
	c.JSON(http.StatusOK, disasters)
}

func (h *Handler) GetDisaster(c *gin.Context) {
	d, err := h.svc.Engine.Disaster(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Get disaster", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) SetDisasterStatus(c *gin.Context) {
	var req struct {
		Status models.DisasterStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	d, err := h.svc.Engine.SetStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, "Set disaster status", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) ListEscalations(c *gin.Context) {
	limit, offset, err := page(c)
	if err != nil {
		h.respondError(c, "List escalations", err)
		return
	}
	escalations, err := h.svc.Engine.Escalations(c.Request.Context(), actor(c), limit, offset)
	if err != nil {
		h.respondError(c, "List escalations", err)
		return
	}
	c.JSON(http.StatusOK, escalations)
}

func (h *Handler) MarkEscalationNotified(c *gin.Context) {
	e, err := h.svc.Engine.MarkNotified(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "Mark escalation notified", err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) WithdrawEscalation(c *gin.Context) {
	if err := h.svc.Engine.Withdraw(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		h.respondError(c, "Withdraw escalation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	limit, offset, err := page(c)
	if err != nil {
		h.respondError(c, "List notifications", err)
		return
	}
	notifications, err := h.svc.Engine.Notifications(c.Request.Context(), actor(c), limit, offset)
	if err != nil {
		h.respondError(c, "List notifications", err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *Handler) CreateNotification(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	n, err := h.svc.Engine.Notify(c.Request.Context(), actor(c), req.Recipient, req.Message)
	if err != nil {
		h.respondError(c, "Create notification", err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	n, err := h.svc.Engine.MarkRead(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "Mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type registration struct {
	Volunteer models.Volunteer `json:"volunteer"`
	Token     string           `json:"token"`
}

// RegisterVolunteer creates a profile and returns it with an identity token.
// Only admins may create other admins.
func (h *Handler) RegisterVolunteer(c *gin.Context) {
	var req struct {
		Name string      `json:"name" binding:"required"`
		Role models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleVolunteer
	}
	if !req.Role.Valid() {
		h.respondError(c, "Register volunteer", apperr.Validation("invalid role %q", req.Role))
		return
	}
	if req.Role == models.RoleAdmin {
		if ident, ok := identity(c); !ok || !ident.IsAdmin() {
			h.respondError(c, "Register volunteer", apperr.Forbidden("only admins can create admins"))
			return
		}
	}

	v := models.Volunteer{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		CreatedAt: h.svc.Clock.Now(),
	}
	if err := h.svc.Volunteers.CreateVolunteer(c.Request.Context(), v); err != nil {
		h.respondError(c, "Register volunteer", err)
		return
	}
	token, err := h.svc.Tokens.Issue(models.Identity{UserID: v.ID, Role: v.Role})
	if err != nil {
		h.respondError(c, "Issue token", err)
		return
	}
	h.logger.Infof("Registered %s %s", v.Role, v.ID)
	c.JSON(http.StatusCreated, registration{Volunteer: v, Token: token})
}

func (h *Handler) GetVolunteer(c *gin.Context) {
	id := c.Param("id")
	if a := actor(c); a.UserID != id && !a.IsAdmin() {
		h.respondError(c, "Get volunteer", apperr.Forbidden("cannot view another volunteer"))
		return
	}
	v, err := h.svc.Volunteers.GetVolunteer(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Get volunteer", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) Subscribe(c *gin.Context) {
	var req struct {
		ConnectionID string   `json:"connection_id" binding:"required"`
		Lat          *float64 `json:"lat" binding:"required"`
		Lng          *float64 `json:"lng" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	var userID *string
	if ident, ok := identity(c); ok {
		id := ident.UserID
		userID = &id
	}
	sub, err := h.svc.Router.Subscribe(c.Request.Context(), req.ConnectionID, userID, *req.Lat, *req.Lng)
	if err != nil {
		h.respondError(c, "Subscribe", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	var actor *models.Identity
	if ident, ok := identity(c); ok {
		actor = &ident
	}
	if err := h.svc.Router.UnsubscribeAs(c.Request.Context(), c.Param("connection_id"), actor); err != nil {
		h.respondError(c, "Unsubscribe", err)
		return
	}
	c.Status(http.StatusNoContent)
}
