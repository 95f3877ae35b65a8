package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/waitlist/internal/domain/notification"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SchedulerEnabled    bool          `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerInterval   time.Duration `mapstructure:"SCHEDULER_INTERVAL"`
	SchedulerBatchSize  int           `mapstructure:"SCHEDULER_BATCH_SIZE"`
	SchedulerClaimLease time.Duration `mapstructure:"SCHEDULER_CLAIM_LEASE"`
	SchedulerLockKey    string        `mapstructure:"SCHEDULER_LOCK_KEY"`

	TransportTimeout     time.Duration `mapstructure:"TRANSPORT_TIMEOUT"`
	PostmarkServerToken  string        `mapstructure:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `mapstructure:"POSTMARK_ACCOUNT_TOKEN"`
	EmailSender          string        `mapstructure:"EMAIL_SENDER"`
	EmailReplyTo         string        `mapstructure:"EMAIL_REPLY_TO"`
	SMSWebhookURL        string        `mapstructure:"SMS_WEBHOOK_URL"`
	SMSWebhookToken      string        `mapstructure:"SMS_WEBHOOK_TOKEN"`
	InternalChannel      string        `mapstructure:"INTERNAL_CHANNEL"`

	NotificationConfigFile string `mapstructure:"NOTIFICATION_CONFIG_FILE"`
	MatchLimit             int    `mapstructure:"MATCH_LIMIT"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SCHEDULER_ENABLED", "SCHEDULER_INTERVAL", "SCHEDULER_BATCH_SIZE", "SCHEDULER_CLAIM_LEASE", "SCHEDULER_LOCK_KEY",
	"TRANSPORT_TIMEOUT", "POSTMARK_SERVER_TOKEN", "POSTMARK_ACCOUNT_TOKEN", "EMAIL_SENDER", "EMAIL_REPLY_TO",
	"SMS_WEBHOOK_URL", "SMS_WEBHOOK_TOKEN", "INTERNAL_CHANNEL",
	"NOTIFICATION_CONFIG_FILE", "MATCH_LIMIT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_INTERVAL", "60s")
	v.SetDefault("SCHEDULER_BATCH_SIZE", 100)
	v.SetDefault("SCHEDULER_CLAIM_LEASE", "2m")
	v.SetDefault("SCHEDULER_LOCK_KEY", "waitlist:scheduler:leader")
	v.SetDefault("TRANSPORT_TIMEOUT", "10s")
	v.SetDefault("INTERNAL_CHANNEL", "waitlist:staff")
	v.SetDefault("MATCH_LIMIT", 5)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks cross-field rules. In production every transport must be
// backed by a real provider rather than the log fallback.
func (c *Config) Validate() error {
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.SchedulerInterval)
	}
	if c.SchedulerBatchSize <= 0 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive, got %d", c.SchedulerBatchSize)
	}
	if c.TransportTimeout <= 0 {
		return fmt.Errorf("TRANSPORT_TIMEOUT must be positive, got %s", c.TransportTimeout)
	}
	// The lease is renewed before every dispatch, so it has to cover one
	// transport call plus the claim and outcome writes around it.
	if c.SchedulerClaimLease < 2*c.TransportTimeout {
		return fmt.Errorf("SCHEDULER_CLAIM_LEASE (%s) must be at least twice TRANSPORT_TIMEOUT (%s)",
			c.SchedulerClaimLease, c.TransportTimeout)
	}
	if c.MatchLimit <= 0 {
		return fmt.Errorf("MATCH_LIMIT must be positive, got %d", c.MatchLimit)
	}
	if c.PostmarkServerToken != "" && c.EmailSender == "" {
		return fmt.Errorf("EMAIL_SENDER is required when POSTMARK_SERVER_TOKEN is set")
	}

	if c.IsProduction() {
		if c.PostmarkServerToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN is required in production")
		}
		if c.SMSWebhookURL == "" {
			return fmt.Errorf("SMS_WEBHOOK_URL is required in production")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
	}
	return nil
}

// LoadNotificationConfig returns the notification defaults, overridden by
// the YAML (or any viper-readable) file at path when path is set. Each
// status listed under status_changes replaces the default for that status
// as a whole.
func LoadNotificationConfig(path string) (notification.Config, error) {
	cfg := notification.DefaultConfig()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return notification.Config{}, fmt.Errorf("read notification config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return notification.Config{}, fmt.Errorf("decode notification config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return notification.Config{}, fmt.Errorf("notification config: %w", err)
	}
	return cfg, nil
}
