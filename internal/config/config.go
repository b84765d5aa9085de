package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Notification channels understood by NOTIFY_CHANNEL.
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Env           string
	Port          string
	DatabaseURL   string
	SQLitePath    string
	LocalTimezone *time.Location

	CronSecret          string
	AuthTokenSecret     string
	SchedulerEnabled    bool
	NotifyChannel       string
	DispatchConcurrency int
	ProviderTimeout     time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	OpenAIAPIKey         string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	OAuthStateSecret   string
	AppBaseURL         string

	RedisURL string
}

// Load reads configuration values and prepares defaults where applicable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := loadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to the host zone: %v", timezoneName, err)
		location, _ = loadLocation("Local")
	}

	cronSecret := os.Getenv("CRON_SECRET")

	cfg := &Config{
		Env:           getenvDefault("ENV", "development"),
		Port:          getenvDefault("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getenvDefault("SQLITE_PATH", "medmemo.db"),
		LocalTimezone: location,

		CronSecret:          cronSecret,
		AuthTokenSecret:     os.Getenv("AUTH_TOKEN_SECRET"),
		SchedulerEnabled:    ParseBoolEnv("SCHEDULER_ENABLED", false),
		NotifyChannel:       strings.ToLower(getenvDefault("NOTIFY_CHANNEL", ChannelEmail)),
		DispatchConcurrency: ParseIntEnv("DISPATCH_CONCURRENCY", 8),
		ProviderTimeout:     ParseDurationEnv("PROVIDER_TIMEOUT", 8*time.Second),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     ParseIntEnv("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     os.Getenv("MAIL_FROM"),

		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		OAuthStateSecret:   getenvDefault("OAUTH_STATE_SECRET", cronSecret),
		AppBaseURL:         strings.TrimRight(getenvDefault("APP_BASE_URL", "http://localhost:3000"), "/"),

		RedisURL: os.Getenv("REDIS_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CalendarEnabled reports whether Google OAuth credentials are configured.
func (c *Config) CalendarEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// TimezoneName returns an IANA zone name usable by external providers.
func (c *Config) TimezoneName() string {
	if c.LocalTimezone == nil {
		return "UTC"
	}
	name := c.LocalTimezone.String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.NotifyChannel {
	case ChannelEmail, ChannelWhatsApp:
	default:
		return fmt.Errorf("NOTIFY_CHANNEL must be %q or %q, got %q", ChannelEmail, ChannelWhatsApp, c.NotifyChannel)
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1, got %d", c.DispatchConcurrency)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}

	if !c.IsProduction() {
		return nil
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required in production")
	}
	if c.AuthTokenSecret == "" {
		return fmt.Errorf("AUTH_TOKEN_SECRET is required in production")
	}
	if c.NotifyChannel == ChannelEmail && (c.SMTPHost == "" || c.MailFrom == "") {
		return fmt.Errorf("SMTP_HOST and MAIL_FROM are required for the email channel in production")
	}
	if c.NotifyChannel == ChannelWhatsApp && (c.TwilioAccountSID == "" || c.TwilioWhatsAppNumber == "") {
		return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_WHATSAPP_NUMBER are required for the whatsapp channel in production")
	}
	if c.CalendarEnabled() && c.OAuthStateSecret == "" {
		return fmt.Errorf("OAUTH_STATE_SECRET is required when calendar sync is enabled")
	}
	return nil
}

// localtimePath is the host zone link consulted when TZ is unset.
var localtimePath = "/etc/localtime"

// loadLocation resolves name to a named zone. "Local" is resolved through TZ
// and the /etc/localtime link so calendar providers receive the same IANA
// zone the dispatcher runs in; a host zone without a name falls back to UTC.
func loadLocation(name string) (*time.Location, error) {
	if name != "Local" {
		return time.LoadLocation(name)
	}
	if zone := hostZoneName(); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err == nil {
			return loc, nil
		}
		log.Printf("config: unable to load host zone %q: %v", zone, err)
	}
	log.Printf("config: host timezone has no IANA name, using UTC")
	return time.UTC, nil
}

func hostZoneName() string {
	tz := strings.TrimPrefix(os.Getenv("TZ"), ":")
	if tz == "" {
		target, err := os.Readlink(localtimePath)
		if err != nil {
			return ""
		}
		tz = target
	}
	if _, zone, ok := strings.Cut(tz, "zoneinfo/"); ok {
		return zone
	}
	if strings.HasPrefix(tz, "/") {
		return ""
	}
	return tz
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseBoolEnv returns the boolean value for an environment variable or the provided default.
func ParseBoolEnv(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as bool: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseDurationEnv returns the duration value for an environment variable or the provided default.
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as duration: %v", key, value, err)
		return def
	}
	return parsed
}
