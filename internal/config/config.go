package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the relay process.
// All values come from env (optionally seeded from a .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	VoiceAI VoiceAIConfig
	CRM     CRMConfig
	Session SessionConfig
	Events  EventsConfig
	Archive ArchiveConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicHost overrides the request Host when building stream and callback URLs.
	PublicHost string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	ClientTokenTTL time.Duration
	AdminTokenTTL  time.Duration
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	BaseURL      string
	HoldMusicURL string
}

type VoiceAIConfig struct {
	APIKey         string
	BaseURL        string
	DefaultAgentID string
}

type CRMConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// SessionConfig selects the session registry backend.
// Accepts: memory, redis
type SessionConfig struct {
	Backend string
	TTL     time.Duration
}

// EventsConfig enables call lifecycle publishing when URL is set.
type EventsConfig struct {
	AMQPURL string
	Queue   string
}

// ArchiveConfig enables transcript archiving when Bucket is set.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

type MetricsConfig struct {
	Namespace string
}

// Load reads configuration from env. A .env file in the working directory is
// loaded first when present; variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicHost = strings.TrimSpace(os.Getenv("PUBLIC_HOST"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Session.Backend = strings.TrimSpace(os.Getenv("SESSION_BACKEND"))
	c.Session.TTL = mustDuration("SESSION_TTL")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if c.Session.Backend == "redis" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.ClientTokenTTL = mustDuration("JWT_CLIENT_TTL")
	c.Auth.AdminTokenTTL = mustDuration("JWT_ADMIN_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.BaseURL = strings.TrimSpace(os.Getenv("TWILIO_BASE_URL"))
	c.Twilio.HoldMusicURL = strings.TrimSpace(os.Getenv("TWILIO_HOLD_MUSIC_URL"))

	c.VoiceAI.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.VoiceAI.BaseURL = strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	c.VoiceAI.DefaultAgentID = firstField(os.Getenv("ELEVENLABS_AGENT_IDS"))

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("GHL_BASE_URL"))
	c.CRM.ClientID = strings.TrimSpace(os.Getenv("GHL_CLIENT_ID"))
	c.CRM.ClientSecret = os.Getenv("GHL_CLIENT_SECRET")
	c.CRM.RedirectURI = strings.TrimSpace(os.Getenv("GHL_REDIRECT_URI"))

	c.Events.AMQPURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Events.Queue = strings.TrimSpace(os.Getenv("RABBITMQ_QUEUE"))

	c.Archive.Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))
	c.Archive.Region = strings.TrimSpace(os.Getenv("S3_REGION"))
	c.Archive.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	c.Archive.AccessKey = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY"))
	c.Archive.SecretKey = os.Getenv("S3_SECRET_KEY")
	c.Archive.PathStyle = strings.EqualFold(strings.TrimSpace(os.Getenv("S3_PATH_STYLE")), "true")

	c.Metrics.Namespace = strings.TrimSpace(os.Getenv("METRICS_NAMESPACE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every violation at once and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when SESSION_BACKEND=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be one of memory, redis, got %q", c.Session.Backend))
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 2 * time.Hour
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.ClientTokenTTL <= 0 {
		c.Auth.ClientTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.AdminTokenTTL <= 0 {
		c.Auth.AdminTokenTTL = 365 * 24 * time.Hour
	}

	// Carrier and voice vendor credentials are fatal when missing.
	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.BaseURL == "" {
		c.Twilio.BaseURL = "https://api.twilio.com"
	}
	if c.Twilio.HoldMusicURL == "" {
		c.Twilio.HoldMusicURL = "http://twimlets.com/holdmusic?Bucket=com.twilio.music.classical"
	}

	if c.VoiceAI.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	if c.VoiceAI.BaseURL == "" {
		c.VoiceAI.BaseURL = "https://api.elevenlabs.io"
	}

	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = "https://services.leadconnectorhq.com"
	}

	if c.Events.AMQPURL != "" && c.Events.Queue == "" {
		c.Events.Queue = "voice_relay_call_events"
	}

	if c.Archive.Bucket != "" {
		if c.Archive.Region == "" {
			c.Archive.Region = "us-east-1"
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_BUCKET is set"))
		}
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "voice_relay"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

// firstField returns the first entry of a comma separated list.
func firstField(v string) string {
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			return f
		}
	}
	return ""
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
