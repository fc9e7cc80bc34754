package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
	"coastal-alert-service/internal/utils"
)

// TelegramReporter posts a short dispatch summary to an operators' chat.
// Subscribers are never contacted through it.
type TelegramReporter struct {
	chatID  int64
	limiter *rate.Limiter
	logger  *logging.Logger
	send    func(ctx context.Context, chatID int64, text string) error
}

// NewTelegramReporter returns nil when the bot token or chat id is not configured.
func NewTelegramReporter(cfg config.Config, logger *logging.Logger) (*TelegramReporter, error) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.OpsChatID == 0 {
		return nil, nil
	}

	b, err := bot.New(cfg.Telegram.BotToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	send := func(ctx context.Context, chatID int64, text string) error {
		_, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   text,
		})
		return err
	}
	return newTelegramReporter(cfg.Telegram.OpsChatID, cfg.Telegram.RateLimit, logger, send), nil
}

func newTelegramReporter(chatID int64, ratePerSecond int, logger *logging.Logger, send func(context.Context, int64, string) error) *TelegramReporter {
	return &TelegramReporter{
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
		send:    send,
	}
}

// ReportDispatch sends the summary of a dispatch run, retrying transient failures.
func (r *TelegramReporter) ReportDispatch(ctx context.Context, alert models.Alert, summary models.DispatchSummary) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	text := FormatDispatchReport(alert, summary)
	return utils.Retry(ctx, r.logger, "telegram dispatch report", 3, time.Second, func() error {
		if err := r.send(ctx, r.chatID, text); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", r.chatID, err)
		}
		return nil
	})
}

func FormatDispatchReport(alert models.Alert, s models.DispatchSummary) string {
	text := fmt.Sprintf("Alert #%d dispatched: %s [%s]\nSent: %d/%d\nFailed: %d",
		alert.ID, alert.Title, alert.Severity.Upper(), s.Sent, s.Total, s.Failed)
	if s.Skipped > 0 {
		text += fmt.Sprintf("\nSkipped: %d", s.Skipped)
	}
	return text
}
