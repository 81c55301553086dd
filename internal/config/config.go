package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the bot process configuration. Values come from an optional
// YAML file; secrets may be overridden from the environment.
type Config struct {
	Addr            string `yaml:"addr"`
	DBPath          string `yaml:"db_path"`
	TelegramToken   string `yaml:"telegram_token"`
	WebhookToken    string `yaml:"webhook_token"`
	CheckinInterval string `yaml:"checkin_interval"`

	Relay RelayConfig `yaml:"relay"`
}

// RelayConfig is shared with the relay process.
type RelayConfig struct {
	OffsetPath  string `yaml:"offset_path"`
	PollTimeout string `yaml:"poll_timeout"`
	WebhookURL  string `yaml:"webhook_url"`
}

func Default() Config {
	return Config{
		Addr:            ":8000",
		DBPath:          "checkinbot.db",
		CheckinInterval: "24h",
		Relay: RelayConfig{
			OffsetPath:  "relay.offset",
			PollTimeout: "60s",
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		dec := yaml.NewDecoder(strings.NewReader(string(b)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env names kept compatible with the original deployment.
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TG_WEBHOOK_TOKEN"); v != "" {
		cfg.WebhookToken = v
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required (or set TELEGRAM_TOKEN)")
	}
	if c.WebhookToken == "" {
		return fmt.Errorf("webhook_token is required (or set TG_WEBHOOK_TOKEN)")
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	return nil
}

// Interval parses the check-in delay.
func (c Config) Interval() (time.Duration, error) {
	return parseDurationField("checkin_interval", c.CheckinInterval, 24*time.Hour)
}

// Timeout parses the relay's long-poll window.
func (c RelayConfig) Timeout() (time.Duration, error) {
	return parseDurationField("relay.poll_timeout", c.PollTimeout, 60*time.Second)
}

func parseDurationField(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
