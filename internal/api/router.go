package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relief-service/internal/config"
	"relief-service/internal/logging"
)

func NewRouter(svc Services, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(svc, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.API.BasePath)
	if svc.Realtime != nil {
		api.GET("/ws", gin.WrapH(svc.Realtime))
	}

	api.Use(Authenticate(svc.Tokens))
	api.POST("/volunteers", h.RegisterVolunteer)

	authed := api.Group("", RequireIdentity())
	{
		// Disasters
		authed.POST("/disasters", h.ReportDisaster)
		authed.GET("/disasters", h.ListDisasters)
		authed.GET("/disasters/:id", h.GetDisaster)
		authed.PATCH("/disasters/:id/status", h.SetDisasterStatus)

		// Escalations
		authed.GET("/escalations", h.ListEscalations)
		authed.POST("/escalations/:id/notify", h.MarkEscalationNotified)
		authed.DELETE("/escalations/:id", h.WithdrawEscalation)

		// Notifications
		authed.GET("/notifications", h.ListNotifications)
		authed.POST("/notifications", h.CreateNotification)
		authed.PATCH("/notifications/:id/read", h.MarkNotificationRead)

		// Volunteers
		authed.GET("/volunteers/:id", h.GetVolunteer)

		// Help tickets
		authed.POST("/disasters/:id/help", h.SignUp)
		authed.GET("/help", h.ListTickets)
		authed.GET("/help/pending", h.ListPendingTickets)
		authed.GET("/help/:id", h.GetTicket)
		authed.POST("/help/:id/log", h.SubmitLog)
		authed.POST("/help/:id/verify", h.VerifyTicket)

		// Tasks
		authed.POST("/tasks", h.CreateTask)
		authed.GET("/tasks", h.ListTasks)
		authed.GET("/tasks/:id", h.GetTask)
		authed.POST("/tasks/:id/claim", h.ClaimTask)
		authed.POST("/tasks/:id/submit", h.SubmitTask)
		authed.POST("/tasks/:id/verify", h.VerifyTask)
	}

	// Subscriptions may come from guests.
	api.POST("/subscriptions", h.Subscribe)
	api.DELETE("/subscriptions/:connection_id", h.Unsubscribe)

	return r
}
