package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"botdash/config"
)

func TestNewLogger_BadLevel(t *testing.T) {
	if _, _, err := NewLogger(config.LogConfig{Level: "chatty"}, true); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_QuietWithoutFile(t *testing.T) {
	logger, closer, err := NewLogger(config.LogConfig{Level: "info"}, true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closer.Close()

	if logger.Core().Enabled(0) {
		t.Error("expected a no-op logger when quiet and no file is set")
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.log")
	logger, closer, err := NewLogger(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1, MaxBackups: 1}, true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug("sync state changed")
	logger.Sync()
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"sync state changed"`) {
		t.Errorf("unexpected log contents: %s", data)
	}
}
