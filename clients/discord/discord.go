package discord

import (
	"fmt"
	"time"

	"botdash/clients/notifier"
	"botdash/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends ops alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
	host      string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: cfg.Discord.BetaChannelID,
		isProd:    cfg.IsProd,
		host:      cfg.Server.Host(),
	}
	if cfg.IsProd {
		dc.channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", dc.channelID),
	)
	return dc
}

// Enabled reports whether alerts will actually be sent.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendOpsAlert sends the alert as a rich embed.
func (dc *DiscordClient) SendOpsAlert(alert notifier.OpsAlert) {
	if !dc.Enabled() {
		dc.logger.Debug("discord not configured, skipping alert", zap.String("kind", string(alert.Kind)))
		return
	}

	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, dc.buildEmbed(alert)); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord ops alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("title", alert.Title),
	)
}

func (dc *DiscordClient) buildEmbed(alert notifier.OpsAlert) *discordgo.MessageEmbed {
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(alert.Fields))
	for _, f := range alert.Fields {
		if f.Value == "" {
			continue
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}

	stage := "beta"
	if dc.isProd {
		stage = "prod"
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", severityEmoji(alert.Severity), alert.Title),
		Description: alert.Description,
		Color:       severityColor(alert.Severity),
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("botdash * %s * %s", stage, dc.host),
		},
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}

func severityColor(s notifier.Severity) int {
	switch s {
	case notifier.SeveritySuccess:
		return 0x2ECC71
	case notifier.SeverityWarning:
		return 0xF1C40F
	case notifier.SeverityDanger:
		return 0xE74C3C
	default:
		return 0x3498DB
	}
}

func severityEmoji(s notifier.Severity) string {
	switch s {
	case notifier.SeveritySuccess:
		return "🟢"
	case notifier.SeverityWarning:
		return "🟡"
	case notifier.SeverityDanger:
		return "🔴"
	default:
		return "🔵"
	}
}
