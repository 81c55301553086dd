package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8000" || cfg.DBPath != "checkinbot.db" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if d, err := cfg.Interval(); err != nil || d != 24*time.Hour {
		t.Fatalf("Interval = %v, %v; want 24h", d, err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
addr: ":9000"
db_path: "bot.db"
telegram_token: "from-file"
webhook_token: "hook"
checkin_interval: "30m"
relay:
  offset_path: "/var/lib/bot/offset"
  poll_timeout: "45s"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TELEGRAM_TOKEN", "from-env")
	t.Setenv("TG_WEBHOOK_TOKEN", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.DBPath != "bot.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.TelegramToken != "from-env" {
		t.Fatalf("TelegramToken = %q, env must win", cfg.TelegramToken)
	}
	if cfg.WebhookToken != "hook" {
		t.Fatalf("WebhookToken = %q", cfg.WebhookToken)
	}
	if d, _ := cfg.Interval(); d != 30*time.Minute {
		t.Fatalf("Interval = %v, want 30m", d)
	}
	if d, _ := cfg.Relay.Timeout(); d != 45*time.Second {
		t.Fatalf("relay timeout = %v, want 45s", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestValidateRequiresTokens(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without tokens")
	}
}
