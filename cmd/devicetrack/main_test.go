package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("web.listen = %q", cfg.Web.Listen)
	}
	if cfg.Store.Path != "devicetrack.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.Assets.Dir != "assets" || cfg.Assets.CacheTTL != "5m" {
		t.Errorf("assets = %+v", cfg.Assets)
	}
	if cfg.Rules.Dir != "rules" {
		t.Errorf("rules.dir = %q", cfg.Rules.Dir)
	}
	if cfg.MQTT.TopicPrefix != "devicetrack" {
		t.Errorf("mqtt.topic_prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigValues(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
store:
  path: /var/lib/devicetrack/data.db
web:
  listen: ":9000"
  api_key: secret
  allowed_origins: ["http://localhost:3000"]
  metrics: true
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic_prefix: fleet
  discovery: true
rules:
  enabled: true
  dir: /etc/devicetrack/rules
assets:
  dir: /etc/devicetrack/assets
  cache_ttl: 1m
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Web.Listen != ":9000" || cfg.Web.APIKey != "secret" || !cfg.Web.Metrics {
		t.Errorf("web = %+v", cfg.Web)
	}
	if len(cfg.Web.AllowedOrigins) != 1 {
		t.Errorf("allowed_origins = %v", cfg.Web.AllowedOrigins)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.TopicPrefix != "fleet" || !cfg.MQTT.Discovery {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if !cfg.Rules.Enabled || cfg.Rules.Dir != "/etc/devicetrack/rules" {
		t.Errorf("rules = %+v", cfg.Rules)
	}
	if cfg.Assets.CacheTTL != "1m" {
		t.Errorf("assets.cache_ttl = %q", cfg.Assets.CacheTTL)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "web: [unclosed\n")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Web.Listen = "" }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }},
		{"bad cache ttl", func(c *Config) { c.Assets.CacheTTL = "soon" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, "{}\n"))
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	logger := newLogger(cfg)
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}
