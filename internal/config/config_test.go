package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PHONE_COUNTRY_CODE", "")
	t.Setenv("SESSION_TTL", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CountryCode != "91" {
		t.Fatalf("expected default country code 91, got %s", cfg.CountryCode)
	}
	if cfg.OTPTTL != 10*time.Minute || cfg.RateLimitWindow != 5*time.Minute {
		t.Fatalf("unexpected otp windows: ttl=%s rate=%s", cfg.OTPTTL, cfg.RateLimitWindow)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session, got %s", cfg.SessionTTL)
	}
	if cfg.OTPMaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.OTPMaxAttempts)
	}
	if cfg.GraphAPIBase() != "https://graph.facebook.com/v18.0" {
		t.Fatalf("unexpected graph base %s", cfg.GraphAPIBase())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WHATSAPP_WEBHOOK_SECRET", "shh")
	t.Setenv("WHATSAPP_API_VERSION", "v19.0")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lower-cased level, got %s", cfg.LogLevel)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected session ttl override, got %s", cfg.SessionTTL)
	}
	if cfg.OTPMaxAttempts != 5 {
		t.Fatalf("expected attempts override, got %d", cfg.OTPMaxAttempts)
	}
	if cfg.GraphAPIBase() != "https://graph.facebook.com/v19.0" {
		t.Fatalf("unexpected graph base %s", cfg.GraphAPIBase())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overrides should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.SessionStore = "etcd" }},
		{"unknown sms provider", func(c *Config) { c.SMSProvider = "pigeon" }},
		{"zero otp ttl", func(c *Config) { c.OTPTTL = 0 }},
		{"non numeric country code", func(c *Config) { c.CountryCode = "+91" }},
		{"redis without addr", func(c *Config) { c.SessionStore = "redis"; c.RedisAddr = "" }},
		{"dynamodb without table", func(c *Config) { c.SessionStore = "dynamodb"; c.SessionTable = "" }},
		{"production without secret", func(c *Config) { c.Env = "production"; c.WhatsAppWebhookSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
