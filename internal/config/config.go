// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text". Empty picks json in production and text otherwise.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// SessionSigningKey is the HMAC key for session tokens. Never compiled in; must be injected.
	SessionSigningKey string `mapstructure:"SESSION_SIGNING_KEY"`
	// SessionTTL is the absolute session lifetime (e.g. "12h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionIdleTTL expires sessions that have not been used for this long (e.g. "30m").
	SessionIdleTTL string `mapstructure:"SESSION_IDLE_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTPTTL is the validity window of a one-time code; default 5m.
	OTPTTL string `mapstructure:"OTP_TTL"`
	// PendingSessionTTL is how long a password-verified session waits for its code; must exceed OTPTTL.
	PendingSessionTTL string `mapstructure:"PENDING_SESSION_TTL"`
	// OTPMaxAttempts bounds verification attempts per challenge before a new login is required.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPReturnToClient enables dev code disclosure when delivery fails. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// SMTP settings for email code delivery. Email delivery is disabled when SMTPHost is empty.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// SMSLocalAPIKey is the API key for SMS Local. SMS delivery is disabled when empty.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// OpeningBalance is credited to every newly registered account (decimal string).
	OpeningBalance string `mapstructure:"OPENING_BALANCE"`
	// TransferMaxAmount caps a single transfer via the default policy; empty or "0" means no cap.
	TransferMaxAmount string `mapstructure:"TRANSFER_MAX_AMOUNT"`
	// TransferPolicyPath is an optional extra Rego module loaded alongside the default transfer policy.
	TransferPolicyPath string `mapstructure:"TRANSFER_POLICY_PATH"`
	// DBTxTimeout bounds every ledger/OTP transaction (e.g. "5s").
	DBTxTimeout string `mapstructure:"DB_TX_TIMEOUT"`

	// RateLimitRPS and RateLimitBurst configure the per-client limiter on login and code verification.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// KafkaBrokers is a comma-separated list of Kafka brokers for ledger events. Empty disables publishing.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// LedgerEventsTopic is the Kafka topic for ledger events.
	LedgerEventsTopic string `mapstructure:"LEDGER_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group ID used by the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker ships consumed ledger events (e.g. http://localhost:3100). Empty only logs them.
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// WorkerMetricsAddr is where the worker serves /metrics. Empty disables it.
	WorkerMetricsAddr string `mapstructure:"WORKER_METRICS_ADDR"`
	// SweepSchedule is the cron spec the worker uses to purge expired sessions and challenges.
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("SESSION_SIGNING_KEY", "")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("PENDING_SESSION_TTL", "15m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("OPENING_BALANCE", "1000.00")
	v.SetDefault("TRANSFER_MAX_AMOUNT", "")
	v.SetDefault("TRANSFER_POLICY_PATH", "")
	v.SetDefault("DB_TX_TIMEOUT", "5s")
	v.SetDefault("RATE_LIMIT_RPS", 1.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LEDGER_EVENTS_TOPIC", "ledger-events")
	v.SetDefault("KAFKA_GROUP_ID", "ledger-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")
	v.SetDefault("SWEEP_SCHEDULE", "@every 1m")
}

// Validate checks cross-field rules and fills zero values that have a safe default.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.OTPReturnToClient && c.IsProduction() {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.IsProduction() && len(c.SessionSigningKey) < 32 {
		return errors.New("config: SESSION_SIGNING_KEY must be at least 32 bytes in production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.OTPMaxAttempts <= 0 {
		c.OTPMaxAttempts = 5
	}
	if c.PendingSessionLifetime() <= c.OTPLifetime() {
		return errors.New("config: PENDING_SESSION_TTL must be longer than OTP_TTL")
	}
	if _, err := c.OpeningBalanceAmount(); err != nil {
		return err
	}
	if _, err := c.TransferMaxAmountValue(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// SessionLifetime parses SessionTTL. Returns 12h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	return parseDuration(c.SessionTTL, 12*time.Hour)
}

// SessionIdleLifetime parses SessionIdleTTL. Returns 30m if unset or invalid.
func (c *Config) SessionIdleLifetime() time.Duration {
	return parseDuration(c.SessionIdleTTL, 30*time.Minute)
}

// OTPLifetime parses OTPTTL. Returns 5m if unset or invalid.
func (c *Config) OTPLifetime() time.Duration {
	return parseDuration(c.OTPTTL, 5*time.Minute)
}

// PendingSessionLifetime parses PendingSessionTTL. Returns 15m if unset or invalid.
func (c *Config) PendingSessionLifetime() time.Duration {
	return parseDuration(c.PendingSessionTTL, 15*time.Minute)
}

// TxTimeout parses DBTxTimeout. Returns 5s if unset or invalid.
func (c *Config) TxTimeout() time.Duration {
	return parseDuration(c.DBTxTimeout, 5*time.Second)
}

// OpeningBalanceAmount parses OpeningBalance. A negative opening balance is rejected.
func (c *Config) OpeningBalanceAmount() (decimal.Decimal, error) {
	if strings.TrimSpace(c.OpeningBalance) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.OpeningBalance))
	if err != nil {
		return decimal.Zero, errors.New("config: OPENING_BALANCE must be a decimal amount")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("config: OPENING_BALANCE must not be negative")
	}
	return d, nil
}

// TransferMaxAmountValue parses TransferMaxAmount. Zero means no cap.
func (c *Config) TransferMaxAmountValue() (decimal.Decimal, error) {
	s := strings.TrimSpace(c.TransferMaxAmount)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, errors.New("config: TRANSFER_MAX_AMOUNT must be a non-negative decimal amount")
	}
	return d, nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
