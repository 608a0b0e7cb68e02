package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramAlerter sends user-facing escalation notices to a Telegram chat
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
	now    func() time.Time
}

// NewTelegramAlerter connects a bot that alerts the given chat
func NewTelegramAlerter(token, chatID string, logger *zap.Logger) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ta := &TelegramAlerter{
		bot:    bot,
		chatID: id,
		logger: logger,
		now:    time.Now,
	}

	if err := ta.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ta, nil
}

// testConnection tests Telegram connection with retry logic
func (ta *TelegramAlerter) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := ta.bot.GetMe()
		if err == nil {
			ta.logger.Info("Telegram connection successful")
			return nil
		}

		ta.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// AlertUser sends an HTML formatted notice. The bot API call cannot be
// cancelled, so ctx is only checked before sending.
func (ta *TelegramAlerter) AlertUser(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(ta.chatID, ta.formatMessage(title, message))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ta.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	ta.logger.Info("User alert sent", zap.String("title", title))
	return nil
}

func (ta *TelegramAlerter) formatMessage(title, message string) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>FALLGUARD</b> 🚨\n\n")
	sb.WriteString(fmt.Sprintf("<b>%s</b>\n", html.EscapeString(title)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", ta.now().Format("2006-01-02 15:04:05")))
	sb.WriteString(html.EscapeString(message))

	return sb.String()
}

// SendStartupMessage sends a message when the service starts
func (ta *TelegramAlerter) SendStartupMessage() error {
	msg := tgbotapi.NewMessage(ta.chatID, "🟢 <b>FallGuard monitoring started</b>\n\n"+
		"📡 Listening to motion sensors\n"+
		"✅ Fall alerts are active")
	msg.ParseMode = "HTML"

	_, err := ta.bot.Send(msg)
	return err
}

// LogAlerter records user-facing notices in the log when no chat is configured
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter alerts by logging only
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) AlertUser(ctx context.Context, title, message string) error {
	l.logger.Warn("User alert", zap.String("title", title), zap.String("message", message))
	return nil
}
