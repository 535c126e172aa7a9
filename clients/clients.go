package clients

import (
	"time"

	"botdash/clients/dashboardapi"
	"botdash/clients/dashboardevents"
	"botdash/clients/discord"
	"botdash/clients/notifier"
	"botdash/clients/telegram"
	"botdash/config"

	"go.uber.org/zap"
)

// alertCooldown bounds how often the same kind of ops alert is delivered.
const alertCooldown = time.Minute

type Clients struct {
	Logger *zap.Logger

	Discord         *discord.DiscordClient
	Telegram        *telegram.TelegramClient
	Notifier        notifier.Notifier // Combined, throttled notifier for all channels
	DashboardApi    *dashboardapi.DashboardApiClient
	DashboardEvents *dashboardevents.DashboardEventsClient
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	return &Clients{
		Logger:          logger,
		Discord:         discordClient,
		Telegram:        telegramClient,
		Notifier:        notifier.NewThrottled(notifier.NewMultiNotifier(discordClient, telegramClient), alertCooldown),
		DashboardApi:    dashboardapi.NewDashboardApiClient(logger, cfg),
		DashboardEvents: dashboardevents.NewDashboardEventsClient(logger, cfg),
	}
}

// Close releases the push connection and notifier resources.
func (c *Clients) Close() error {
	var firstErr error
	if c.DashboardEvents != nil {
		if err := c.DashboardEvents.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
