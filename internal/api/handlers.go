package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
	"coastal-alert-service/internal/services"
	"coastal-alert-service/internal/utils"
)

const timeLayout = "2006-01-02 15:04:05"

type Handler struct {
	svc    *services.Service
	logger *logging.Logger
	now    func() time.Time
}

func NewHandler(svc *services.Service, logger *logging.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type subscriberResponse struct {
	ID                   int64   `json:"id"`
	PhoneNumber          string  `json:"phone_number"`
	IsActive             bool    `json:"is_active"`
	SubscribedAt         string  `json:"subscribed_at"`
	LastNotificationSent *string `json:"last_notification_sent"`
}

type alertResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	CreatedAt   string `json:"created_at"`
	TimeAgo     string `json:"time_ago"`
}

type notificationResponse struct {
	ID           int64  `json:"id"`
	SubscriberID int64  `json:"subscriber_id"`
	PhoneNumber  string `json:"phone_number"`
	AlertID      int64  `json:"alert_id"`
	AlertTitle   string `json:"alert_title"`
	SentAt       string `json:"sent_at"`
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
}

func (h *Handler) CreateAlert(c *gin.Context) {
	var in models.AlertCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badJSON(c, err)
		return
	}

	alert, summary, err := h.svc.CreateAlert(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err, "Failed to create alert")
		return
	}

	requestLogger(c, h.logger).Infof("Alert %d created, %d/%d notified", alert.ID, summary.Sent, summary.Total)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Alert created and notifications sent successfully",
		"alert_id": alert.ID,
	})
}

func (h *Handler) GetAlerts(c *gin.Context) {
	alerts, err := h.svc.RecentAlerts(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get alerts")
		return
	}

	now := h.now()
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertResponse{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			Severity:    string(a.Severity),
			CreatedAt:   a.CreatedAt.Format(timeLayout),
			TimeAgo:     utils.TimeAgo(now, a.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func (h *Handler) DispatchAlert(c *gin.Context) {
	id, ok := h.alertID(c)
	if !ok {
		return
	}

	alert, summary, err := h.svc.RedispatchAlert(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to dispatch alert")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  fmt.Sprintf("Sent notifications for %q to %d subscribers", alert.Title, summary.Sent),
		"alert_id": alert.ID,
		"sent":     summary.Sent,
		"failed":   summary.Failed,
		"total":    summary.Total,
	})
}

func (h *Handler) DeactivateAlert(c *gin.Context) {
	id, ok := h.alertID(c)
	if !ok {
		return
	}

	if err := h.svc.DeactivateAlert(c.Request.Context(), id); err != nil {
		h.fail(c, err, "Failed to deactivate alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Alert deactivated"})
}

func (h *Handler) SubscribeSMS(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badJSON(c, err)
		return
	}

	sub, outcome, err := h.svc.Subscribe(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(c, err, "Failed to subscribe")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      outcome.Message(),
		"phone_number": sub.PhoneNumber,
	})
}

func (h *Handler) UnsubscribeSMS(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badJSON(c, err)
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), req.PhoneNumber); err != nil {
		h.fail(c, err, "Failed to unsubscribe")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Successfully unsubscribed from SMS alerts"})
}

func (h *Handler) GetSubscribers(c *gin.Context) {
	subs, err := h.svc.ListSubscribers(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get subscribers")
		return
	}

	out := make([]subscriberResponse, 0, len(subs))
	for _, s := range subs {
		r := subscriberResponse{
			ID:           s.ID,
			PhoneNumber:  s.PhoneNumber,
			IsActive:     s.IsActive,
			SubscribedAt: s.SubscribedAt.Format(timeLayout),
		}
		if s.LastNotificationSent != nil {
			last := s.LastNotificationSent.Format(timeLayout)
			r.LastNotificationSent = &last
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "subscribers": out})
}

func (h *Handler) TestSMS(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badJSON(c, err)
		return
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	alert, err := h.svc.SendTestSMS(c.Request.Context(), phone)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  "SMS sent to " + phone,
			"alert_id": alert.ID,
		})
	case services.IsValidation(err) || alert.ID == 0:
		h.fail(c, err, "Failed to send test SMS")
	default:
		requestLogger(c, h.logger).Errorf("Test SMS for alert %d failed: %v", alert.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "SMS failed. Check logs."})
	}
}

func (h *Handler) GetNotifications(c *gin.Context) {
	var f models.NotificationFilter
	var err error

	if v := c.Query("alert_id"); v != "" {
		if f.AlertID, err = strconv.ParseInt(v, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid alert_id"})
			return
		}
	}
	f.Status = models.NotificationStatus(c.Query("status"))
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid offset"})
			return
		}
	}

	list, err := h.svc.ListNotifications(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err, "Failed to get notifications")
		return
	}

	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:           n.ID,
			SubscriberID: n.SubscriberID,
			PhoneNumber:  n.PhoneNumber,
			AlertID:      n.AlertID,
			AlertTitle:   n.AlertTitle,
			SentAt:       n.SentAt.Format(timeLayout),
			Status:       string(n.Status),
			LastError:    n.LastError,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": out})
}

func (h *Handler) alertID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid alert id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) badJSON(c *gin.Context, err error) {
	requestLogger(c, h.logger).Warnf("Invalid request body: %v", err)
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON data"})
}

// fail maps service errors to status codes. Only unexpected errors are logged as faults.
func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Msg})
	case errors.Is(err, models.ErrSubscriberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Phone number not found"})
	case errors.Is(err, models.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Alert not found"})
	case errors.Is(err, models.ErrAlertInactive):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Alert is not active"})
	default:
		requestLogger(c, h.logger).Errorf("%s: %v", fallback, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": fallback})
	}
}
