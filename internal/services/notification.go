package services

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// Notifier is the outbound alerting capability the engine consumes.
// Delivery is best-effort and fire-and-forget: a failed send is logged,
// never propagated.
type Notifier interface {
	// Notify sends an informational message.
	Notify(ctx context.Context, message string)
	// NotifyUrgent sends a high-priority message, used when capital is at
	// risk (a position left open after a failed unwind).
	NotifyUrgent(ctx context.Context, message string)
}

// TelegramNotifier delivers alerts to a Telegram chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
// Returns nil bot inside when the token is empty; sends then become no-ops.
func NewTelegramNotifier(token, chatID string, logger *logrus.Logger) *TelegramNotifier {
	var telegramBot *bot.Bot
	if token != "" {
		var err error
		telegramBot, err = bot.New(token)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize Telegram bot, notifications disabled")
		}
	}
	return &TelegramNotifier{bot: telegramBot, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	n.send(ctx, message)
}

func (n *TelegramNotifier) NotifyUrgent(ctx context.Context, message string) {
	n.send(ctx, "🚨 URGENT: "+message)
}

func (n *TelegramNotifier) send(ctx context.Context, message string) {
	if n.bot == nil || n.chatID == "" {
		return
	}
	// Detached from the caller: the engine never blocks on delivery.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_, err := n.bot.SendMessage(sendCtx, &bot.SendMessageParams{
			ChatID: n.chatID,
			Text:   message,
		})
		if err != nil {
			n.logger.WithError(err).Warn("Failed to send Telegram notification")
		}
	}()
}

// LogNotifier writes notifications to the log. It is the fallback when no
// Telegram credentials are configured, and the default in tests.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, message string) {
	n.logger.WithField("notification", message).Info("Notification")
}

func (n *LogNotifier) NotifyUrgent(ctx context.Context, message string) {
	n.logger.WithField("notification", message).Error("Urgent notification")
}
