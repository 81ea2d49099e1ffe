package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
logLevel: debug
redisAddr: localhost:6379
sessionTTL: 12h
orderRecipients:
  - orders@edureuse.local
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.OrderRecipients) != 1 || cfg.OrderRecipients[0] != "orders@edureuse.local" {
		t.Fatalf("unexpected order recipients: %v", cfg.OrderRecipients)
	}
	ttl, err := ParseDurationOr(cfg.SessionTTL, time.Hour)
	if err != nil || ttl != 12*time.Hour {
		t.Fatalf("sessionTTL: %v err=%v", ttl, err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
redisAddr: localhost:6379
`)
	t.Setenv("PORT", "9090")
	t.Setenv("ORDER_RECIPIENTS", "a@example.com, b@example.com")
	t.Setenv("SIGNUP_RATE_LIMIT_PER_MINUTE", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("env override not applied, got %s", cfg.Port)
	}
	if len(cfg.OrderRecipients) != 2 {
		t.Fatalf("csv env override not applied: %v", cfg.OrderRecipients)
	}
	if cfg.SignupRateLimitPerMinute != 3 {
		t.Fatalf("rate limit override not applied: %d", cfg.SignupRateLimitPerMinute)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing port", "redisAddr: localhost:6379\n"},
		{"missing redis", "port: \"8080\"\n"},
		{"jwt backend without secret", "port: \"8080\"\nredisAddr: localhost:6379\nsessionBackend: jwt\n"},
		{"unknown session backend", "port: \"8080\"\nredisAddr: localhost:6379\nsessionBackend: cookiejar\n"},
		{"bad sessionTTL", "port: \"8080\"\nredisAddr: localhost:6379\nsessionTTL: soon\n"},
		{"minio without bucket", "port: \"8080\"\nredisAddr: localhost:6379\nminioEndpoint: localhost:9000\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
