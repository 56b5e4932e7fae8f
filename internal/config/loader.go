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
// built-in defaults, applies ESCROW_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is the
// default; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) || path != DefaultPath {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// DefaultPath is the config file read when -config is not given.
const DefaultPath = "config.toml"

// applyEnvOverrides reads well-known ESCROW_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ESCROW_MODE")
	setStr(&cfg.LogLevel, "ESCROW_LOG_LEVEL")
	setStr(&cfg.Store.Backend, "ESCROW_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ESCROW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESCROW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ESCROW_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "ESCROW_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ESCROW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROW_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROW_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setUint64(&cfg.Settlement.FeeScalar, "ESCROW_SETTLEMENT_FEE_SCALAR")
	setBool(&cfg.Settlement.RejectZeroAsk, "ESCROW_SETTLEMENT_REJECT_ZERO_ASK")
	setUint64(&cfg.Settlement.ListingDeposit, "ESCROW_SETTLEMENT_LISTING_DEPOSIT")

	// ── Server ──
	setInt(&cfg.Server.Port, "ESCROW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROW_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.SignatureMaxAge, "ESCROW_SERVER_SIGNATURE_MAX_AGE")
	setInt(&cfg.Server.RateLimit, "ESCROW_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "ESCROW_SERVER_RATE_LIMIT_WINDOW")
	setBool(&cfg.Server.DevFaucet, "ESCROW_SERVER_DEV_FAUCET")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "ESCROW_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.PageSize, "ESCROW_ARCHIVE_PAGE_SIZE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROW_NOTIFY_EVENTS")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
