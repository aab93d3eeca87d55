package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080, PublicURL: "https://calls.example.com"},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callcenter"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{AccountSID: "AC123", AuthToken: "token"},
		AI:     AIConfig{GeminiAPIKey: "key"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalAppliesDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Dialer.TickInterval != 5*time.Second {
		t.Fatalf("tick default = %v", c.Dialer.TickInterval)
	}
	if c.Dialer.DrainTimeout != 60*time.Second {
		t.Fatalf("drain default = %v", c.Dialer.DrainTimeout)
	}
	if c.AI.Model == "" || c.AI.Voice == "" {
		t.Fatalf("ai defaults not applied: %+v", c.AI)
	}
}

func TestValidate_RequiresTelephonyAndAICredentials(t *testing.T) {
	c := validLocal()
	c.Twilio.AccountSID = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing twilio sid")
	}

	c = validLocal()
	c.AI.GeminiAPIKey = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing gemini key")
	}
}

func TestStreamURLUsesWebsocketScheme(t *testing.T) {
	c := validLocal()
	if got := c.StreamURL(); got != "wss://calls.example.com/media-stream" {
		t.Fatalf("stream url = %q", got)
	}
	if got := c.StatusCallbackURL(); got != "https://calls.example.com/webhooks/twilio/status" {
		t.Fatalf("status url = %q", got)
	}
}
