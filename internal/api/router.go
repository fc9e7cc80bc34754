package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/services"
)

func NewRouter(svc *services.Service, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(svc, logger)
	api := r.Group(cfg.API.BasePath)
	{
		// Alerts
		api.POST("/create-alert/", h.CreateAlert)
		api.GET("/alerts/", h.GetAlerts)
		api.POST("/alerts/:id/dispatch/", h.DispatchAlert)
		api.POST("/alerts/:id/deactivate/", h.DeactivateAlert)

		// Subscribers
		api.POST("/subscribe-sms/", h.SubscribeSMS)
		api.POST("/unsubscribe-sms/", h.UnsubscribeSMS)
		api.GET("/subscribers/", h.GetSubscribers)

		// Notifications
		api.POST("/test-sms/", h.TestSMS)
		api.GET("/notifications/", h.GetNotifications)
	}

	r.GET("/ws/alerts", h.AlertsWS)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
