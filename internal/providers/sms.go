package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
	"coastal-alert-service/pkg/sms"
)

// ErrGatewayNotConfigured is returned by every send when carrier credentials are missing.
var ErrGatewayNotConfigured = errors.New("sms gateway not configured")

// Gateway delivers one alert to one phone number. A nil error means the carrier accepted it.
type Gateway interface {
	Send(ctx context.Context, phoneNumber string, alert models.Alert) error
}

// Sender is a blocking carrier client. *sms.Client satisfies it.
type Sender interface {
	Send(toNumber, body string) (string, error)
}

// FormatMessage renders the SMS body for an alert.
func FormatMessage(alert models.Alert, signature string) string {
	return fmt.Sprintf("🚨 COASTAL ALERT 🚨\n\n%s\nSeverity: %s\n\n%s\n\nStay safe! - %s",
		alert.Title, alert.Severity.Upper(), alert.Description, signature)
}

// NormalizeNumber prepends countryCode to numbers that lack a leading '+'.
func NormalizeNumber(phoneNumber, countryCode string) string {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if strings.HasPrefix(phoneNumber, "+") {
		return phoneNumber
	}
	return countryCode + phoneNumber
}

// ContextSender is a carrier client whose calls honor a context. *sms.SNSClient satisfies it.
type ContextSender interface {
	Send(ctx context.Context, toNumber, body string) (string, error)
}

// NewGateway picks the delivery path once, at startup.
func NewGateway(ctx context.Context, cfg config.Config, logger *logging.Logger) (Gateway, error) {
	switch {
	case cfg.SMS.Mode == config.SMSModeSimulate:
		logger.Info("SMS gateway running in simulation mode")
		return &SimulationGateway{logger: logger, now: time.Now}, nil
	case !cfg.SMSConfigured():
		logger.Warn("Twilio credentials missing, SMS delivery disabled")
		return &disabledGateway{logger: logger}, nil
	case cfg.SMS.Provider == config.SMSProviderSNS:
		client, err := sms.NewSNSClient(ctx, cfg.SMS.AWSRegion, cfg.SMS.SNSSenderID)
		if err != nil {
			return nil, err
		}
		logger.Infof("SMS gateway using Amazon SNS in %s", cfg.SMS.AWSRegion)
		return NewSNSGateway(client, cfg.SMS.DefaultCountryCode, cfg.SMS.Signature, logger), nil
	default:
		client := sms.NewClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber)
		return NewTwilioGateway(client, cfg.SMS.DefaultCountryCode, cfg.SMS.Signature, logger), nil
	}
}

type TwilioGateway struct {
	sender      Sender
	countryCode string
	signature   string
	logger      *logging.Logger
}

func NewTwilioGateway(sender Sender, countryCode, signature string, logger *logging.Logger) *TwilioGateway {
	return &TwilioGateway{
		sender:      sender,
		countryCode: countryCode,
		signature:   signature,
		logger:      logger,
	}
}

type sendResult struct {
	sid string
	err error
}

// Send hands the message to the carrier and waits until it answers or ctx is done.
// The carrier client takes no context, so an abandoned call finishes in the background.
func (g *TwilioGateway) Send(ctx context.Context, phoneNumber string, alert models.Alert) error {
	to := NormalizeNumber(phoneNumber, g.countryCode)
	body := FormatMessage(alert, g.signature)

	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: fmt.Errorf("carrier client panic: %v", r)}
			}
		}()
		sid, err := g.sender.Send(to, body)
		done <- sendResult{sid: sid, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sms to %s: %w", to, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		g.logger.WithFields(logrus.Fields{
			"to":       to,
			"alert_id": alert.ID,
			"sid":      res.sid,
		}).Info("SMS sent")
		return nil
	}
}

type SNSGateway struct {
	sender      ContextSender
	countryCode string
	signature   string
	logger      *logging.Logger
}

func NewSNSGateway(sender ContextSender, countryCode, signature string, logger *logging.Logger) *SNSGateway {
	return &SNSGateway{
		sender:      sender,
		countryCode: countryCode,
		signature:   signature,
		logger:      logger,
	}
}

func (g *SNSGateway) Send(ctx context.Context, phoneNumber string, alert models.Alert) error {
	to := NormalizeNumber(phoneNumber, g.countryCode)
	id, err := g.sender.Send(ctx, to, FormatMessage(alert, g.signature))
	if err != nil {
		return err
	}
	g.logger.WithFields(logrus.Fields{
		"to":         to,
		"alert_id":   alert.ID,
		"message_id": id,
	}).Info("SMS sent")
	return nil
}

// SimulationGateway logs the payload it would have sent and reports success.
type SimulationGateway struct {
	logger *logging.Logger
	now    func() time.Time
}

type simulatedPayload struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	AlertID   int64  `json:"alert_id"`
	Timestamp string `json:"timestamp"`
}

func (g *SimulationGateway) Send(_ context.Context, phoneNumber string, alert models.Alert) error {
	if strings.TrimSpace(phoneNumber) == "" {
		return errors.New("simulated sms: empty phone number")
	}

	payload := simulatedPayload{
		To:        phoneNumber,
		Message:   fmt.Sprintf("ALERT: %s\nSeverity: %s\n%s\n\nStay safe!", alert.Title, alert.Severity.Upper(), alert.Description),
		AlertID:   alert.ID,
		Timestamp: g.now().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("simulated sms: %w", err)
	}
	g.logger.WithField("payload", string(data)).Info("SMS simulated")
	return nil
}

type disabledGateway struct {
	logger *logging.Logger
}

func (g *disabledGateway) Send(_ context.Context, phoneNumber string, alert models.Alert) error {
	g.logger.WithField("alert_id", alert.ID).Warnf("SMS to %s not sent: Twilio credentials not configured", phoneNumber)
	return ErrGatewayNotConfigured
}
