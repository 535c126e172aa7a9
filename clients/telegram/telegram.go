package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botdash/clients/notifier"
	"botdash/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramClient sends ops alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	client   *resty.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger:   logger,
		botToken: cfg.Telegram.BotToken,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client: resty.New().
			SetBaseURL(telegramAPIURL).
			SetTimeout(10 * time.Second),
	}

	if tc.botToken == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return tc
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// Enabled reports whether alerts will actually be sent.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendOpsAlert sends the alert as a Markdown message.
func (tc *TelegramClient) SendOpsAlert(alert notifier.OpsAlert) {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping alert", zap.String("kind", string(alert.Kind)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := tc.sendMessage(ctx, buildAlertMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram ops alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("title", alert.Title),
	)
}

func buildAlertMessage(alert notifier.OpsAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n", escapeMarkdown(alert.Title)))
	if alert.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(escapeMarkdown(alert.Description))
		sb.WriteString("\n")
	}

	if len(alert.Fields) > 0 {
		sb.WriteString("\n")
		for _, f := range alert.Fields {
			if f.Value == "" {
				continue
			}
			sb.WriteString(fmt.Sprintf("*%s:* %s\n", escapeMarkdown(f.Name), escapeMarkdown(f.Value)))
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_%s_", ts.UTC().Format("2006-01-02 15:04:05 MST")))
	return sb.String()
}

func (tc *TelegramClient) sendMessage(ctx context.Context, text string) error {
	resp, err := tc.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":    tc.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", tc.botToken))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
