// Package config defines the escrowd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROW_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the caches, the
// event bus and the API rate limiter; without it events are relayed in
// process and requests are not rate limited.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig is the process-wide settlement policy.
type SettlementConfig struct {
	FeeScalar      uint64 `toml:"fee_scalar"`
	RejectZeroAsk  bool   `toml:"reject_zero_ask"`
	ListingDeposit uint64 `toml:"listing_deposit"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	SignatureMaxAge   duration `toml:"signature_max_age"`
	RateLimit         int      `toml:"rate_limit"`
	RateLimitWindow   duration `toml:"rate_limit_window"`
	DevFaucet         bool     `toml:"dev_faucet"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
	ReadHeaderTimeout duration `toml:"read_header_timeout"`
}

// ArchiveConfig controls the journal archive mode.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
	PageSize      int `toml:"page_size"`
}

// NotifyConfig holds operator alert channels. Alerts are off when no
// channel is configured.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "escrow:",
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrow-archive",
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			FeeScalar: 1000,
		},
		Server: ServerConfig{
			Port:              8080,
			CORSOrigins:       []string{"http://localhost:3000"},
			SignatureMaxAge:   duration{5 * time.Minute},
			RateLimit:         120,
			RateLimitWindow:   duration{time.Minute},
			ShutdownTimeout:   duration{10 * time.Second},
			ReadHeaderTimeout: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			PageSize:      500,
		},
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}
	if mode == "archive" && backend != "postgres" {
		errs = append(errs, "store: archive mode requires the postgres backend")
	}

	if backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.Archive.PageSize < 1 {
			errs = append(errs, "archive: page_size must be >= 1")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Settlement.FeeScalar == 0 {
		errs = append(errs, "settlement: fee_scalar must be > 0")
	}

	if mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureMaxAge.Duration <= 0 {
			errs = append(errs, "server: signature_max_age must be > 0")
		}
		if c.Redis.Enabled && (c.Server.RateLimit < 1 || c.Server.RateLimitWindow.Duration <= 0) {
			errs = append(errs, "server: rate_limit and rate_limit_window must be positive")
		}
		if c.Server.DevFaucet && backend == "postgres" {
			errs = append(errs, "server: dev_faucet is only allowed with the memory backend")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
