package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relief-service/internal/models"
)

func (h *Handler) SignUp(c *gin.Context) {
	t, err := h.svc.Tickets.SignUp(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "Sign up", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ListTickets returns the actor's tickets, or another volunteer's for admins.
func (h *Handler) ListTickets(c *gin.Context) {
	h.sweepFirst(c)
	list, err := h.svc.Tickets.ListForVolunteer(c.Request.Context(), actor(c), c.Query("volunteer_id"))
	if err != nil {
		h.respondError(c, "List tickets", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ListPendingTickets(c *gin.Context) {
	h.sweepFirst(c)
	list, err := h.svc.Tickets.ListPending(c.Request.Context(), actor(c))
	if err != nil {
		h.respondError(c, "List pending tickets", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetTicket(c *gin.Context) {
	t, err := h.svc.Tickets.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "Get ticket", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) SubmitLog(c *gin.Context) {
	var req struct {
		Quantity int      `json:"quantity"`
		Proofs   []string `json:"proofs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tickets.SubmitLog(c.Request.Context(), actor(c), c.Param("id"), req.Quantity, req.Proofs)
	if err != nil {
		h.respondError(c, "Submit log", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type verdict struct {
	Approve  *bool  `json:"approve" binding:"required"`
	Feedback string `json:"feedback"`
}

func (h *Handler) VerifyTicket(c *gin.Context) {
	var req verdict
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tickets.Verify(c.Request.Context(), actor(c), c.Param("id"), *req.Approve)
	if err != nil {
		h.respondError(c, "Verify ticket", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req struct {
		DisasterID  string `json:"disaster_id" binding:"required"`
		Kind        string `json:"kind" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tasks.Create(c.Request.Context(), actor(c), req.DisasterID, req.Kind, req.Description)
	if err != nil {
		h.respondError(c, "Create task", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ListTasks filters by ?status=, or returns the actor's own tasks with ?mine=true.
func (h *Handler) ListTasks(c *gin.Context) {
	h.sweepFirst(c)
	var (
		list []models.Task
		err  error
	)
	if c.Query("mine") == "true" {
		list, err = h.svc.Tasks.ListForVolunteer(c.Request.Context(), actor(c).UserID)
	} else {
		list, err = h.svc.Tasks.List(c.Request.Context(), models.TaskStatus(c.Query("status")))
	}
	if err != nil {
		h.respondError(c, "List tasks", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.svc.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Get task", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ClaimTask(c *gin.Context) {
	t, err := h.svc.Tasks.Claim(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "Claim task", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) SubmitTask(c *gin.Context) {
	var req struct {
		Proof string `json:"proof"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tasks.Submit(c.Request.Context(), actor(c), c.Param("id"), req.Proof)
	if err != nil {
		h.respondError(c, "Submit task", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) VerifyTask(c *gin.Context) {
	var req verdict
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tasks.Verify(c.Request.Context(), actor(c), c.Param("id"), *req.Approve, req.Feedback)
	if err != nil {
		h.respondError(c, "Verify task", err)
		return
	}
	c.JSON(http.StatusOK, t)
}
