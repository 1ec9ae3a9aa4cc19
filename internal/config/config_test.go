package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig(env string) Config {
	return Config{
		App:     AppConfig{Env: env, Port: 8000},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "relay"},
		Auth:    AuthConfig{JWTSecret: "secret"},
		Twilio:  TwilioConfig{AccountSID: "AC123", AuthToken: "tok"},
		VoiceAI: VoiceAIConfig{APIKey: "xi"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MissingVendorCredentialsAreFatal(t *testing.T) {
	c := validConfig("local")
	c.Twilio = TwilioConfig{}
	c.VoiceAI = VoiceAIConfig{}

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "ELEVENLABS_API_KEY"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Session.Backend != "memory" || c.Session.TTL != 2*time.Hour {
		t.Fatalf("unexpected session defaults: %+v", c.Session)
	}
	if c.CRM.BaseURL != "https://services.leadconnectorhq.com" {
		t.Fatalf("unexpected crm base url %q", c.CRM.BaseURL)
	}
}

func TestValidate_RedisBackendRequiresAddress(t *testing.T) {
	c := validConfig("local")
	c.Session.Backend = "redis"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for redis backend without host")
	}

	c = validConfig("local")
	c.Session.Backend = "redis"
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ArchiveNeedsCredentials(t *testing.T) {
	c := validConfig("local")
	c.Archive.Bucket = "transcripts"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for bucket without keys")
	}
}

func TestFirstField(t *testing.T) {
	if got := firstField(" , agent_1, agent_2"); got != "agent_1" {
		t.Fatalf("expected agent_1, got %q", got)
	}
}
