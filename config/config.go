package config

import (
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Bot service the dashboard mirrors
	Server ServerConfig `json:"server"`

	// Outbound HTTP behavior
	HTTP HTTPConfig `json:"http"`

	// Live sync tuning
	Sync SyncConfig `json:"sync"`

	// Local dashboard server
	DashboardServer DashboardServerConfig `json:"dashboard_server"`

	// Terminal renderer
	TUI TUIConfig `json:"tui"`

	// Logging
	Log LogConfig `json:"log"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`
}

// ServerConfig locates the bot service.
type ServerConfig struct {
	BaseURL  string      `json:"base_url"`
	WSPath   string      `json:"ws_path"`
	APIToken string      `json:"-"` // Excluded - env var only
	Paths    ServerPaths `json:"paths"`
}

// ServerPaths are the REST endpoints relative to BaseURL.
type ServerPaths struct {
	Status        string `json:"status"`
	MarketData    string `json:"market_data"`
	Positions     string `json:"positions"`
	ClosePosition string `json:"close_position"`
	BotControl    string `json:"bot_control"`
	UpdateConfig  string `json:"update_config"`
}

// WSURL derives the push endpoint from BaseURL, switching http(s) to ws(s).
func (s ServerConfig) WSURL() string {
	base := strings.TrimRight(s.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	path := s.WSPath
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// HTTPConfig holds REST client settings.
type HTTPConfig struct {
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"` // GET only; actions are never retried
}

// SyncConfig tunes the failover controller and both channels.
type SyncConfig struct {
	ProbeTimeout          time.Duration `json:"probe_timeout"`
	StatusPollInterval    time.Duration `json:"status_poll_interval"`
	DashboardPollInterval time.Duration `json:"dashboard_poll_interval"`
	MessageCapacity       int           `json:"message_capacity"`
	ReconnectInitial      time.Duration `json:"reconnect_initial"`
	ReconnectMax          time.Duration `json:"reconnect_max"`
	PingInterval          time.Duration `json:"ping_interval"`
}

// DashboardServerConfig holds the local HTTP/websocket server configuration.
type DashboardServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// TUIConfig toggles the terminal renderer.
type TUIConfig struct {
	Enabled bool `json:"enabled"`
}

// LogConfig controls the zap level and optional rotating file output.
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// Host returns the host portion of the server URL, or the raw value if it
// does not parse.
func (s ServerConfig) Host() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" {
		return s.BaseURL
	}
	return u.Host
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
// Secrets excluded from JSON are carried over from base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultPaths() ServerPaths {
	return ServerPaths{
		Status:        "/api/status",
		MarketData:    "/api/market_data",
		Positions:     "/api/positions",
		ClosePosition: "/api/close_position",
		BotControl:    "/api/bot_control",
		UpdateConfig:  "/api/update_config",
	}
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:5000",
			WSPath:  "/ws",
			Paths:   defaultPaths(),
		},
		HTTP: HTTPConfig{
			Timeout:    10 * time.Second,
			RetryCount: 2,
		},
		Sync: SyncConfig{
			ProbeTimeout:          3 * time.Second,
			StatusPollInterval:    15 * time.Second,
			DashboardPollInterval: 5 * time.Second,
			MessageCapacity:       10,
			ReconnectInitial:      1 * time.Second,
			ReconnectMax:          30 * time.Second,
			PingInterval:          10 * time.Second,
		},
		DashboardServer: DashboardServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	d := Defaults()
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Server: ServerConfig{
			BaseURL:  envString("BOTDASH_SERVER_URL", d.Server.BaseURL),
			WSPath:   envString("BOTDASH_WS_PATH", d.Server.WSPath),
			APIToken: envString("BOTDASH_API_TOKEN", ""),
			Paths:    d.Server.Paths,
		},

		HTTP: HTTPConfig{
			Timeout:    envDuration("HTTP_TIMEOUT", d.HTTP.Timeout),
			RetryCount: envInt("HTTP_RETRY_COUNT", d.HTTP.RetryCount),
		},

		Sync: SyncConfig{
			ProbeTimeout:          envDuration("SYNC_PROBE_TIMEOUT", d.Sync.ProbeTimeout),
			StatusPollInterval:    envDuration("SYNC_STATUS_POLL_INTERVAL", d.Sync.StatusPollInterval),
			DashboardPollInterval: envDuration("SYNC_DASHBOARD_POLL_INTERVAL", d.Sync.DashboardPollInterval),
			MessageCapacity:       envInt("SYNC_MESSAGE_CAPACITY", d.Sync.MessageCapacity),
			ReconnectInitial:      envDuration("SYNC_RECONNECT_INITIAL", d.Sync.ReconnectInitial),
			ReconnectMax:          envDuration("SYNC_RECONNECT_MAX", d.Sync.ReconnectMax),
			PingInterval:          envDuration("SYNC_PING_INTERVAL", d.Sync.PingInterval),
		},

		DashboardServer: DashboardServerConfig{
			Enabled: envBoolDefault("DASHBOARD_SERVER_ENABLED", d.DashboardServer.Enabled),
			Port:    envInt("DASHBOARD_SERVER_PORT", d.DashboardServer.Port),
		},

		TUI: TUIConfig{
			Enabled: envBoolDefault("TUI_ENABLED", false),
		},

		Log: LogConfig{
			Level:      strings.ToLower(envString("LOG_LEVEL", d.Log.Level)),
			File:       envString("LOG_FILE", ""),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", d.Log.MaxSizeMB),
			MaxBackups: envInt("LOG_MAX_BACKUPS", d.Log.MaxBackups),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDuration accepts Go durations ("3s") or bare milliseconds ("3000").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
