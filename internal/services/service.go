package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
	"coastal-alert-service/internal/notification"
	"coastal-alert-service/internal/providers"
)

const (
	RecentAlertsLimit = 10

	defaultNotificationsLimit = 50
	maxNotificationsLimit     = 200

	maxTitleLength  = 200
	minPhoneLength  = 10
	maxPhoneLength  = 15
	reportTimeout   = 30 * time.Second
	testAlertTitle  = "SMS Test"
	testAlertDetail = "This is a test message."
)

// Store is everything the service persists: alerts, subscribers and the notification ledger.
type Store interface {
	notification.Ledger

	CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error)
	GetAlert(ctx context.Context, id int64) (models.Alert, error)
	GetRecentActiveAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	SetAlertActive(ctx context.Context, id int64, active bool) error

	CreateSubscriber(ctx context.Context, phone string) (models.Subscriber, bool, error)
	SetSubscriberActive(ctx context.Context, phone string, active bool) (models.Subscriber, error)
	GetSubscribers(ctx context.Context) ([]models.Subscriber, error)

	GetNotifications(ctx context.Context, f models.NotificationFilter) ([]models.Notification, error)
}

// DispatchReporter receives the summary of every dispatch run.
type DispatchReporter interface {
	ReportDispatch(ctx context.Context, alert models.Alert, summary models.DispatchSummary) error
}

// Service owns the subscriber registry and the alert lifecycle, and runs
// background workers for alerts that arrive from the message bus.
type Service struct {
	store      Store
	dispatcher *notification.Dispatcher
	gateway    providers.Gateway
	reporter   DispatchReporter
	feed       *WebSocketManager
	logger     *logging.Logger
	config     config.Config
	tasks      chan models.AlertCreate
	ctx        context.Context
	cancel     context.CancelFunc
	workers    sync.WaitGroup
	reports    sync.WaitGroup
}

func New(store Store, gateway providers.Gateway, logger *logging.Logger, cfg config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		dispatcher: notification.New(store, gateway, logger, cfg.Notification.MaxWorkers, cfg.SMS.Timeout),
		gateway:    gateway,
		feed:       NewWebSocketManager(cfg.WebSocket.MaxConnections, logger),
		logger:     logger,
		config:     cfg,
		tasks:      make(chan models.AlertCreate, cfg.Notification.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetReporter enables dispatch reports. Pass a non-nil reporter only.
func (s *Service) SetReporter(r DispatchReporter) {
	s.reporter = r
}

func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Feed is the live alert feed for dashboard websocket clients.
func (s *Service) Feed() *WebSocketManager {
	return s.feed
}

// Start launches the worker pool.
func (s *Service) Start() {
	for i := 0; i < s.config.Notification.MaxWorkers; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
}

// Stop signals the workers to exit, lets in-flight alerts finish dispatching
// and waits for their reports. Reports are only started by workers or by
// callers of CreateAlert, so the worker wait must come first.
func (s *Service) Stop() {
	s.cancel()
	s.workers.Wait()
	s.reports.Wait()
	s.feed.CloseAll()
}

// QueueAlert enqueues an alert for creation and dispatch by the workers.
func (s *Service) QueueAlert(in models.AlertCreate) {
	select {
	case s.tasks <- in:
		s.logger.Infof("Queued alert: title=%q", in.Title)
	default:
		s.logger.Errorf("Queue full, dropping alert: title=%q", in.Title)
	}
}

func (s *Service) worker(id int) {
	defer s.workers.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Worker %d stopped", id)
			return
		case in := <-s.tasks:
			// A dequeued alert is stored and dispatched even if shutdown began.
			if _, _, err := s.CreateAlert(context.WithoutCancel(s.ctx), in); err != nil {
				s.logger.Errorf("Worker %d: queued alert %q rejected: %v", id, in.Title, err)
			}
		}
	}
}

// Subscribe registers phone for alerts, reactivating it if it had unsubscribed.
func (s *Service) Subscribe(ctx context.Context, phone string) (models.Subscriber, models.SubscribeOutcome, error) {
	phone, err := validatePhone(phone, true)
	if err != nil {
		return models.Subscriber{}, 0, err
	}

	sub, created, err := s.store.CreateSubscriber(ctx, phone)
	if err != nil {
		return models.Subscriber{}, 0, err
	}
	if created {
		s.logger.Infof("New SMS subscriber %s", phone)
		return sub, models.SubscribeCreated, nil
	}
	if sub.IsActive {
		return sub, models.SubscribeAlreadyActive, nil
	}

	sub, err = s.store.SetSubscriberActive(ctx, phone, true)
	if err != nil {
		return models.Subscriber{}, 0, err
	}
	s.logger.Infof("SMS subscriber %s re-activated", phone)
	return sub, models.SubscribeReactivated, nil
}

// Unsubscribe deactivates phone. Unsubscribing twice is not an error.
func (s *Service) Unsubscribe(ctx context.Context, phone string) error {
	phone, err := validatePhone(phone, false)
	if err != nil {
		return err
	}
	if _, err := s.store.SetSubscriberActive(ctx, phone, false); err != nil {
		return err
	}
	s.logger.Infof("SMS subscriber %s deactivated", phone)
	return nil
}

func (s *Service) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	return s.store.GetSubscribers(ctx)
}

// CreateAlert persists the alert, then notifies subscribers. Once the alert is
// stored no delivery outcome turns into an error.
func (s *Service) CreateAlert(ctx context.Context, in models.AlertCreate) (models.Alert, models.DispatchSummary, error) {
	alert, err := validateAlert(in)
	if err != nil {
		return models.Alert{}, models.DispatchSummary{}, err
	}

	alert, err = s.store.CreateAlert(ctx, alert)
	if err != nil {
		return models.Alert{}, models.DispatchSummary{}, err
	}
	s.logger.WithField("alert_id", alert.ID).Infof("Alert created: %s [%s]", alert.Title, alert.Severity)

	s.feed.BroadcastAlert(alert)
	return alert, s.dispatch(ctx, alert), nil
}

// RedispatchAlert notifies the current active subscribers about an existing alert again.
// Subscribers notified by earlier runs are notified again.
func (s *Service) RedispatchAlert(ctx context.Context, id int64) (models.Alert, models.DispatchSummary, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return models.Alert{}, models.DispatchSummary{}, err
	}
	if !alert.IsActive {
		return alert, models.DispatchSummary{}, models.ErrAlertInactive
	}
	return alert, s.dispatch(ctx, alert), nil
}

func (s *Service) DeactivateAlert(ctx context.Context, id int64) error {
	if err := s.store.SetAlertActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.WithField("alert_id", id).Info("Alert deactivated")
	return nil
}

// RecentAlerts returns the newest active alerts.
func (s *Service) RecentAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.store.GetRecentActiveAlerts(ctx, RecentAlertsLimit)
}

// SendTestSMS stores a low-severity test alert and sends it to phone only.
// No ledger record is written.
func (s *Service) SendTestSMS(ctx context.Context, phone string) (models.Alert, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.Alert{}, models.NewValidationError("Phone number is required")
	}

	alert, err := s.store.CreateAlert(ctx, models.Alert{
		Title:       testAlertTitle,
		Description: testAlertDetail,
		Severity:    models.SeverityLow,
		IsActive:    true,
	})
	if err != nil {
		return models.Alert{}, err
	}

	sendCtx := ctx
	if s.config.SMS.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.config.SMS.Timeout)
		defer cancel()
	}
	if err := s.gateway.Send(sendCtx, phone, alert); err != nil {
		s.logger.WithField("alert_id", alert.ID).Errorf("Test SMS to %s failed: %v", phone, err)
		return alert, fmt.Errorf("test sms: %w", err)
	}
	return alert, nil
}

// ListNotifications pages through the ledger, newest first.
func (s *Service) ListNotifications(ctx context.Context, f models.NotificationFilter) ([]models.Notification, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, models.NewValidationError("Invalid status")
	}
	if f.Limit <= 0 {
		f.Limit = defaultNotificationsLimit
	}
	if f.Limit > maxNotificationsLimit {
		f.Limit = maxNotificationsLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.GetNotifications(ctx, f)
}

// dispatch runs to completion even if the caller goes away; every attempt is
// already bounded by the SMS timeout.
func (s *Service) dispatch(ctx context.Context, alert models.Alert) models.DispatchSummary {
	summary, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), alert)
	if err != nil {
		s.logger.WithField("alert_id", alert.ID).Errorf("Dispatch aborted: %v", err)
		return summary
	}
	s.report(alert, summary)
	return summary
}

func (s *Service) report(alert models.Alert, summary models.DispatchSummary) {
	if s.reporter == nil {
		return
	}
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := s.reporter.ReportDispatch(ctx, alert, summary); err != nil {
			s.logger.WithField("alert_id", alert.ID).Errorf("Dispatch report failed: %v", err)
		}
	}()
}

func validatePhone(phone string, checkLength bool) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", models.NewValidationError("Phone number is required")
	}
	if checkLength && (len(phone) < minPhoneLength || len(phone) > maxPhoneLength) {
		return "", models.NewValidationError("Invalid phone number")
	}
	return phone, nil
}

func validateAlert(in models.AlertCreate) (models.Alert, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" || description == "" {
		return models.Alert{}, models.NewValidationError("Title and description are required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return models.Alert{}, models.NewValidationError("Title must be at most 200 characters")
	}

	severity := models.Severity(strings.ToLower(strings.TrimSpace(in.Severity)))
	if severity == "" {
		severity = models.SeverityMedium
	}
	if !severity.Valid() {
		return models.Alert{}, models.NewValidationError("Invalid severity level")
	}

	return models.Alert{
		Title:       title,
		Description: description,
		Severity:    severity,
		IsActive:    true,
	}, nil
}

// IsValidation reports whether err is a caller mistake rather than a fault.
func IsValidation(err error) bool {
	var v *models.ValidationError
	return errors.As(err, &v)
}
