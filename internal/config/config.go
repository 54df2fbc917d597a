package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	Timezone         string        `mapstructure:"TIMEZONE"`
	SMTPHost         string        `mapstructure:"SMTP_HOST"`
	SMTPPort         int           `mapstructure:"SMTP_PORT"`
	SMTPUsername     string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword     string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom         string        `mapstructure:"SMTP_FROM"`
	PracticeEmail    string        `mapstructure:"PRACTICE_EMAIL"`
	CRMWebhookURL    string        `mapstructure:"CRM_WEBHOOK_URL"`
	CRMWebhookSecret string        `mapstructure:"CRM_WEBHOOK_SECRET"`
	ReminderCron     string        `mapstructure:"REMINDER_CRON"`
	CompletionCron   string        `mapstructure:"COMPLETION_CRON"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "TIMEZONE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"PRACTICE_EMAIL", "CRM_WEBHOOK_URL", "CRM_WEBHOOK_SECRET",
	"REMINDER_CRON", "COMPLETION_CRON", "MIGRATIONS_DIR",
}

// Load reads an optional .env file and the environment. Environment
// variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("AUTH_ISSUER", "cabinet")
	v.SetDefault("TIMEZONE", "Europe/Paris")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("REMINDER_CRON", "0 * * * *")
	v.SetDefault("COMPLETION_CRON", "*/15 * * * *")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma separated string does not decode into a slice by itself.
	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseMemoryStore reports whether appointments live in process memory.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// UseSMTP reports whether outgoing mail goes through a real relay. Without
// one, emails are only recorded.
func (c *Config) UseSMTP() bool {
	return c.SMTPHost != ""
}

// Location resolves TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// the admin API needs a signing key, and a production server needs a real
// database and mail relay.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when ENV=%q", c.Env)
	}
	if c.IsProduction() {
		if c.UseMemoryStore() {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if !c.UseSMTP() {
			return fmt.Errorf("SMTP_HOST is required in production")
		}
	}
	if c.UseSMTP() && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if c.PracticeEmail == "" {
		return fmt.Errorf("PRACTICE_EMAIL is required")
	}
	if _, err := mail.ParseAddress(c.PracticeEmail); err != nil {
		return fmt.Errorf("PRACTICE_EMAIL: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	for name, spec := range map[string]string{"REMINDER_CRON": c.ReminderCron, "COMPLETION_CRON": c.CompletionCron} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", name, spec, err)
		}
	}
	return nil
}
