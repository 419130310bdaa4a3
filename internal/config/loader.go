package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BONDORA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	// Per-account defaults cannot be expressed in Defaults(), so they are
	// applied after decode. Gain zero belongs to the step-down floor, never
	// to a fresh listing, so an unset or zero initial_gain means the default.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].InitialGain == 0 {
			cfg.Accounts[i].InitialGain = defaultInitialGain
		}
	}

	return &cfg, nil
}

// applyEnvOverrides reads well-known BONDORA_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Account tokens are overridable per account name, uppercased:
// BONDORA_ACCOUNT_<NAME>_TOKEN.
func applyEnvOverrides(cfg *Config) {
	// ── Bondora API ──
	setStr(&cfg.Bondora.BaseURL, "BONDORA_API_BASE_URL")
	setInt(&cfg.Bondora.PageSize, "BONDORA_API_PAGE_SIZE")
	setDuration(&cfg.Bondora.Timeout, "BONDORA_API_TIMEOUT")
	setDuration(&cfg.Bondora.RequestCooldown, "BONDORA_API_REQUEST_COOLDOWN")

	// ── Accounts ──
	for i := range cfg.Accounts {
		key := "BONDORA_ACCOUNT_" + strings.ToUpper(cfg.Accounts[i].Name) + "_TOKEN"
		setStr(&cfg.Accounts[i].Token, key)
	}

	// ── Sales ──
	setDuration(&cfg.Sales.StaleAfter, "BONDORA_SALES_STALE_AFTER")
	setInt(&cfg.Sales.GainStep, "BONDORA_SALES_GAIN_STEP")
	setInt(&cfg.Sales.BatchSize, "BONDORA_SALES_BATCH_SIZE")
	setInt(&cfg.Sales.MaxConflictRetries, "BONDORA_SALES_MAX_CONFLICT_RETRIES")
	setFloat64(&cfg.Sales.MaxAdjustedInterest, "BONDORA_SALES_MAX_ADJUSTED_INTEREST")

	// ── Scoring ──
	setStr(&cfg.Scoring.ServiceURL, "BONDORA_SCORING_SERVICE_URL")
	setDuration(&cfg.Scoring.Timeout, "BONDORA_SCORING_TIMEOUT")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Interval, "BONDORA_SCHEDULER_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDORA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BONDORA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDORA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDORA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDORA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDORA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDORA_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDORA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDORA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDORA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BONDORA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDORA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDORA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDORA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDORA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDORA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDORA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDORA_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDORA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDORA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDORA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDORA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDORA_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.SnapshotsEnabled, "BONDORA_S3_SNAPSHOTS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BONDORA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDORA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDORA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BONDORA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDORA_MODE")
	setStr(&cfg.LogLevel, "BONDORA_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
