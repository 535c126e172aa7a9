package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateServer(&c.Server)...)
	errors = append(errors, validateHTTP(&c.HTTP)...)
	errors = append(errors, validateSync(&c.Sync)...)
	errors = append(errors, validateDashboardServer(&c.DashboardServer)...)
	errors = append(errors, validateLog(&c.Log)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateServer(s *ServerConfig) []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(s.BaseURL)
	switch {
	case strings.TrimSpace(s.BaseURL) == "":
		errors = append(errors, ValidationError{
			Field:   "server.base_url",
			Message: "is required",
		})
	case err != nil || u.Host == "":
		errors = append(errors, ValidationError{
			Field:   "server.base_url",
			Message: "must be an absolute URL",
		})
	case u.Scheme != "http" && u.Scheme != "https":
		errors = append(errors, ValidationError{
			Field:   "server.base_url",
			Message: fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme),
		})
	}

	paths := map[string]string{
		"server.paths.status":         s.Paths.Status,
		"server.paths.market_data":    s.Paths.MarketData,
		"server.paths.positions":      s.Paths.Positions,
		"server.paths.close_position": s.Paths.ClosePosition,
		"server.paths.bot_control":    s.Paths.BotControl,
		"server.paths.update_config":  s.Paths.UpdateConfig,
	}
	for _, field := range slices.Sorted(maps.Keys(paths)) {
		if !strings.HasPrefix(paths[field], "/") {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must start with /",
			})
		}
	}

	return errors
}

func validateHTTP(h *HTTPConfig) []ValidationError {
	var errors []ValidationError

	if h.Timeout < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "http.timeout",
			Message: "must be at least 100ms",
		})
	}

	if h.RetryCount < 0 || h.RetryCount > 10 {
		errors = append(errors, ValidationError{
			Field:   "http.retry_count",
			Message: "must be between 0 and 10",
		})
	}

	return errors
}

func validateSync(s *SyncConfig) []ValidationError {
	var errors []ValidationError

	if s.ProbeTimeout < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "sync.probe_timeout",
			Message: "must be at least 100ms",
		})
	}

	if s.StatusPollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "sync.status_poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if s.DashboardPollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "sync.dashboard_poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if s.MessageCapacity < 1 || s.MessageCapacity > 1000 {
		errors = append(errors, ValidationError{
			Field:   "sync.message_capacity",
			Message: "must be between 1 and 1000",
		})
	}

	if s.ReconnectInitial <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.reconnect_initial",
			Message: "must be positive",
		})
	}

	if s.ReconnectMax < s.ReconnectInitial {
		errors = append(errors, ValidationError{
			Field:   "sync.reconnect_max",
			Message: "must be at least reconnect_initial",
		})
	}

	if s.PingInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "sync.ping_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateDashboardServer(ds *DashboardServerConfig) []ValidationError {
	var errors []ValidationError

	if ds.Enabled && (ds.Port < 1 || ds.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "dashboard_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

func validateLog(l *LogConfig) []ValidationError {
	var errors []ValidationError

	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: "must be one of debug, info, warn, error",
		})
	}

	if l.File != "" && l.MaxSizeMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "log.max_size_mb",
			Message: "must be at least 1 when log.file is set",
		})
	}

	if l.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.max_backups",
			Message: "must be non-negative",
		})
	}

	return errors
}
