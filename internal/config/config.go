// Package config defines the top-level configuration for the Bondora sales
// manager and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BONDORA_* environment
// variables.
type Config struct {
	Bondora   BondoraConfig   `toml:"bondora"`
	Accounts  []AccountConfig `toml:"accounts"`
	Sales     SalesConfig     `toml:"sales"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BondoraConfig holds the marketplace API endpoint and request parameters.
type BondoraConfig struct {
	BaseURL  string   `toml:"base_url"`
	PageSize int      `toml:"page_size"`
	Timeout  duration `toml:"timeout"`
	// RequestCooldown is the mandatory pause between calls to the same
	// endpoint, enforced by the rate limiter.
	RequestCooldown duration `toml:"request_cooldown"`
}

// AccountConfig holds one investment account plus its per-deployment sale
// parameters.
type AccountConfig struct {
	Name  string `toml:"name"`
	Token string `toml:"token"`
	// SellStart excludes holdings bid before this instant from selling.
	SellStart time.Time `toml:"sell_start"`
	// InitialGain is the gain assigned to freshly listed parts.
	InitialGain int `toml:"initial_gain"`
}

// SalesConfig holds the reconciliation policy.
type SalesConfig struct {
	StaleAfter          duration `toml:"stale_after"`
	GainStep            int      `toml:"gain_step"`
	BatchSize           int      `toml:"batch_size"`
	MaxConflictRetries  int      `toml:"max_conflict_retries"`
	MaxAdjustedInterest float64  `toml:"max_adjusted_interest"`
}

// ScoringConfig holds the external default-probability service parameters.
type ScoringConfig struct {
	ServiceURL string   `toml:"service_url"`
	Timeout    duration `toml:"timeout"`
}

// SchedulerConfig holds the cycle cadence.
type SchedulerConfig struct {
	Interval duration `toml:"interval"`
}

// PostgresConfig holds PostgreSQL connection parameters. Leave DSN and Host
// empty to run without persistence.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
	// RunMigrations applies the embedded schema migrations on startup.
	RunMigrations bool `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for holding
// snapshots and dataset archives.
type S3Config struct {
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	SnapshotsEnabled bool   `toml:"snapshots_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "4h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "4h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// defaultInitialGain is the gain assigned to fresh listings when an account
// stanza does not set initial_gain.
const defaultInitialGain = 4

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bondora: BondoraConfig{
			BaseURL:         "https://api.bondora.com/api/v1",
			PageSize:        10_000,
			Timeout:         duration{30 * time.Second},
			RequestCooldown: duration{5 * time.Second},
		},
		Sales: SalesConfig{
			StaleAfter:          duration{4 * time.Hour},
			GainStep:            1,
			BatchSize:           100,
			MaxConflictRetries:  99,
			MaxAdjustedInterest: 17.5,
		},
		Scoring: ScoringConfig{
			Timeout: duration{60 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Interval: duration{4 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondora",
			User:          "bondora",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "bondora-data",
			UseSSL:           false,
			ForcePathStyle:   true,
			SnapshotsEnabled: false,
		},
		Notify: NotifyConfig{
			Events: []string{"cycle_failed"},
		},
		Mode:     "loop",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"loop":   true,
	"once":   true,
	"report": true,
	"watch":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode: unsupported value %q", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level: unsupported value %q", c.LogLevel))
	}
	if c.Bondora.BaseURL == "" {
		problems = append(problems, "bondora.base_url: required")
	}
	if c.Bondora.PageSize <= 0 {
		problems = append(problems, "bondora.page_size: must be positive")
	}
	if c.Bondora.RequestCooldown.Duration < 0 {
		problems = append(problems, "bondora.request_cooldown: must not be negative")
	}
	if len(c.Accounts) == 0 {
		problems = append(problems, "accounts: at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Name == "" {
			problems = append(problems, fmt.Sprintf("accounts[%d].name: required", i))
		} else if seen[acc.Name] {
			problems = append(problems, fmt.Sprintf("accounts[%d].name: duplicate %q", i, acc.Name))
		}
		seen[acc.Name] = true
		if acc.Token == "" {
			problems = append(problems, fmt.Sprintf("accounts[%d].token: required", i))
		}
		if acc.InitialGain < 0 {
			problems = append(problems, fmt.Sprintf("accounts[%d].initial_gain: must not be negative", i))
		}
	}
	if c.Sales.StaleAfter.Duration <= 0 {
		problems = append(problems, "sales.stale_after: must be positive")
	}
	if c.Sales.GainStep <= 0 {
		problems = append(problems, "sales.gain_step: must be positive")
	}
	if c.Sales.BatchSize <= 0 || c.Sales.BatchSize > 100 {
		problems = append(problems, "sales.batch_size: must be in 1..100")
	}
	if c.Sales.MaxConflictRetries <= 0 {
		problems = append(problems, "sales.max_conflict_retries: must be positive")
	}
	if c.Scoring.ServiceURL == "" {
		problems = append(problems, "scoring.service_url: required")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		problems = append(problems, "scheduler.interval: must be positive")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr: required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
