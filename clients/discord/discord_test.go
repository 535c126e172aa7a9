package discord

import (
	"strings"
	"testing"
	"time"

	"botdash/clients/notifier"
	"botdash/config"

	"go.uber.org/zap"
)

func testConfig(isProd bool, token string) *config.Config {
	cfg := config.Defaults()
	cfg.IsProd = isProd
	cfg.Server.BaseURL = "http://bot.local:5000"
	cfg.Discord = config.DiscordConfig{
		BotToken:      token,
		ProdChannelID: "prod-channel",
		BetaChannelID: "beta-channel",
	}
	return cfg
}

func TestNewDiscordClient_NoToken(t *testing.T) {
	client := NewDiscordClient(zap.NewNop(), testConfig(false, ""))

	if client.session != nil {
		t.Error("expected nil session when no token provided")
	}
	if client.Enabled() {
		t.Error("client without session should be disabled")
	}
	if client.channelID != "beta-channel" {
		t.Errorf("expected beta channel, got: %s", client.channelID)
	}
}

func TestNewDiscordClient_ProdChannel(t *testing.T) {
	client := NewDiscordClient(nil, testConfig(true, ""))

	if client.channelID != "prod-channel" {
		t.Errorf("expected prod channel, got: %s", client.channelID)
	}
}

func TestNewDiscordClient_WithToken(t *testing.T) {
	client := NewDiscordClient(nil, testConfig(false, "fake-token"))

	if client.session == nil {
		t.Fatal("expected session to be created")
	}
	if !client.Enabled() {
		t.Error("expected client to be enabled")
	}
}

func TestSendOpsAlert_NoSession(t *testing.T) {
	client := &DiscordClient{logger: zap.NewNop()}

	// Should not panic.
	client.SendOpsAlert(notifier.OpsAlert{Kind: notifier.AlertKindDegraded})

	if err := client.Close(); err != nil {
		t.Errorf("Close with nil session: %v", err)
	}
}

func TestBuildEmbed(t *testing.T) {
	client := NewDiscordClient(nil, testConfig(true, ""))
	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	embed := client.buildEmbed(notifier.OpsAlert{
		Kind:        notifier.AlertKindDegraded,
		Severity:    notifier.SeverityWarning,
		Title:       "Live updates degraded",
		Description: "Switched to polling",
		Fields: []notifier.Field{
			{Name: "From", Value: "probing"},
			{Name: "Empty", Value: ""},
			{Name: "To", Value: "poll_active"},
		},
		Timestamp: ts,
	})

	if embed.Title != "🟡 Live updates degraded" {
		t.Errorf("unexpected title: %s", embed.Title)
	}
	if embed.Color != 0xF1C40F {
		t.Errorf("unexpected color: %x", embed.Color)
	}
	if embed.Description != "Switched to polling" {
		t.Errorf("unexpected description: %s", embed.Description)
	}
	if len(embed.Fields) != 2 {
		t.Fatalf("expected empty fields to be skipped, got %d", len(embed.Fields))
	}
	for _, f := range embed.Fields {
		if !f.Inline {
			t.Errorf("field %s should be inline", f.Name)
		}
	}
	if embed.Timestamp != "2024-03-09T12:00:00Z" {
		t.Errorf("unexpected timestamp: %s", embed.Timestamp)
	}
	if !strings.Contains(embed.Footer.Text, "prod") || !strings.Contains(embed.Footer.Text, "bot.local:5000") {
		t.Errorf("unexpected footer: %s", embed.Footer.Text)
	}
}

func TestBuildEmbed_ZeroTimestamp(t *testing.T) {
	client := NewDiscordClient(nil, testConfig(false, ""))
	embed := client.buildEmbed(notifier.OpsAlert{Title: "x"})

	if embed.Timestamp == "" {
		t.Error("expected timestamp to default to now")
	}
	if !strings.Contains(embed.Footer.Text, "beta") {
		t.Errorf("unexpected footer: %s", embed.Footer.Text)
	}
}

func TestSeverityColors(t *testing.T) {
	tests := []struct {
		sev   notifier.Severity
		color int
		emoji string
	}{
		{notifier.SeverityInfo, 0x3498DB, "🔵"},
		{notifier.SeveritySuccess, 0x2ECC71, "🟢"},
		{notifier.SeverityWarning, 0xF1C40F, "🟡"},
		{notifier.SeverityDanger, 0xE74C3C, "🔴"},
		{"", 0x3498DB, "🔵"},
	}
	for _, tt := range tests {
		if got := severityColor(tt.sev); got != tt.color {
			t.Errorf("severityColor(%q) = %x, want %x", tt.sev, got, tt.color)
		}
		if got := severityEmoji(tt.sev); got != tt.emoji {
			t.Errorf("severityEmoji(%q) = %s, want %s", tt.sev, got, tt.emoji)
		}
	}
}
