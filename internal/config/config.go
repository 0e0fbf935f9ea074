// Package config defines the top-level configuration for the kalshi execution
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALSHIEXEC_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Execution ExecutionConfig `toml:"execution"`
	Fees      FeesConfig      `toml:"fees"`
	Metadata  MetadataConfig  `toml:"metadata"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials. The RSA key is read
// either from a plain PEM file or from a password-encrypted key file.
type KalshiConfig struct {
	ApiKey            string   `toml:"api_key"`
	RsaPrivateKeyPath string   `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	BaseURL           string   `toml:"base_url"`
	RequestTimeout    duration `toml:"request_timeout"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	DB                 int    `toml:"db"`
	PoolSize           int    `toml:"pool_size"`
	MaxRetries         int    `toml:"max_retries"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	MetadataTTLMinutes int    `toml:"metadata_ttl_minutes"`
	StreamMaxLen       int    `toml:"stream_max_len"`
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

// ExecutionConfig controls order submission and tracking.
type ExecutionConfig struct {
	DefaultTimeout   duration `toml:"default_timeout"`
	MaxTimeout       duration `toml:"max_timeout"`
	BatchConcurrency int      `toml:"batch_concurrency"`
	// MetadataBackend selects where order metadata is written at submission
	// time: "redis" or "postgres".
	MetadataBackend string `toml:"metadata_backend"`
	// LockTTL bounds how long a client order id stays locked while its
	// execution is in flight. Zero disables the distributed lock.
	LockTTL          duration `toml:"lock_ttl"`
	SubmitRateLimit  int      `toml:"submit_rate_limit"`
	SubmitRateWindow duration `toml:"submit_rate_window"`
	DedupTTL         duration `toml:"dedup_ttl"`
}

// FeesConfig is the fee schedule. Coefficients are pointers so that a
// missing value can be told apart from an explicit zero.
type FeesConfig struct {
	General    *FeeRatesConfig     `toml:"general"`
	Categories []FeeCategoryConfig `toml:"categories"`
}

// FeeRatesConfig holds the taker and maker coefficients of a category.
type FeeRatesConfig struct {
	TakerFeeCoefficient *float64 `toml:"taker_fee_coefficient"`
	MakerFeeCoefficient *float64 `toml:"maker_fee_coefficient"`
}

// FeeCategoryConfig maps ticker prefixes to dedicated coefficients.
type FeeCategoryConfig struct {
	Name                string   `toml:"name"`
	Prefixes            []string `toml:"prefixes"`
	TakerFeeCoefficient *float64 `toml:"taker_fee_coefficient"`
	MakerFeeCoefficient *float64 `toml:"maker_fee_coefficient"`
}

// MetadataConfig drives market category and weather station resolution.
type MetadataConfig struct {
	DefaultCategory string                 `toml:"default_category"`
	Categories      []MarketCategoryConfig `toml:"categories"`
	Stations        map[string]string      `toml:"stations"`
	WeatherCategory string                 `toml:"weather_category"`
}

// MarketCategoryConfig assigns a category name to tickers by prefix.
type MarketCategoryConfig struct {
	Name     string   `toml:"name"`
	Prefixes []string `toml:"prefixes"`
}

// ArchiveConfig controls the trade archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// StreamEvents publishes execution events to the Redis signal bus so the
	// websocket hub and other consumers can follow them.
	StreamEvents bool `toml:"stream_events"`
}

func floatPtr(v float64) *float64 { return &v }

// Defaults returns a Config populated with reasonable default values. The fee
// schedule mirrors the exchange's published coefficients.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:        "https://api.elections.kalshi.com/trade-api/v2",
			RequestTimeout: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:               "localhost:6379",
			PoolSize:           20,
			MaxRetries:         3,
			MetadataTTLMinutes: 7 * 24 * 60,
			StreamMaxLen:       10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "kalshiexec-archive",
			ForcePathStyle: true,
		},
		Execution: ExecutionConfig{
			DefaultTimeout:   duration{5 * time.Second},
			MaxTimeout:       duration{5 * time.Minute},
			BatchConcurrency: 5,
			MetadataBackend:  "redis",
			LockTTL:          duration{10 * time.Minute},
			SubmitRateLimit:  10,
			SubmitRateWindow: duration{time.Second},
			DedupTTL:         duration{time.Hour},
		},
		Fees: FeesConfig{
			General: &FeeRatesConfig{
				TakerFeeCoefficient: floatPtr(0.07),
				MakerFeeCoefficient: floatPtr(0.0175),
			},
			Categories: []FeeCategoryConfig{
				{
					Name:                "index",
					Prefixes:            []string{"INX", "NASDAQ100"},
					TakerFeeCoefficient: floatPtr(0.035),
					MakerFeeCoefficient: floatPtr(0.00875),
				},
			},
		},
		Metadata: MetadataConfig{
			DefaultCategory: "general",
			WeatherCategory: "weather",
			Categories: []MarketCategoryConfig{
				{Name: "weather", Prefixes: []string{"KXHIGH", "KXLOW"}},
				{Name: "index", Prefixes: []string{"INX", "NASDAQ100"}},
			},
			Stations: map[string]string{
				"NY":   "KNYC",
				"CHI":  "KMDW",
				"MIA":  "KMIA",
				"AUS":  "KAUS",
				"DEN":  "KDEN",
				"LAX":  "KLAX",
				"PHIL": "KPHL",
			},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events:       []string{"order_executed", "order_error"},
			StreamEvents: true,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsArchive reports whether the configured mode runs the trade archiver.
func (c *Config) NeedsArchive() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "archive" || (mode == "full" && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Fee schedule problems are
// reported by ValidateFees as a typed configuration error.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi credentials are needed whenever orders can be placed.
	if mode == "server" || mode == "full" {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for mode "+c.Mode)
		}
		if c.Kalshi.RsaPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set")
		}
		if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
			errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.NeedsArchive() {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.Execution.DefaultTimeout.Duration <= 0 {
		errs = append(errs, "execution: default_timeout must be > 0")
	}
	if c.Execution.MaxTimeout.Duration < c.Execution.DefaultTimeout.Duration {
		errs = append(errs, "execution: max_timeout must be >= default_timeout")
	}
	if c.Execution.LockTTL.Duration < 0 {
		errs = append(errs, "execution: lock_ttl must be >= 0")
	}
	if c.Execution.LockTTL.Duration > 0 && c.Execution.LockTTL.Duration < c.Execution.MaxTimeout.Duration {
		errs = append(errs, fmt.Sprintf("execution: lock_ttl %s must be >= max_timeout %s", c.Execution.LockTTL.Duration, c.Execution.MaxTimeout.Duration))
	}
	if c.Execution.BatchConcurrency < 1 {
		errs = append(errs, "execution: batch_concurrency must be >= 1")
	}
	switch c.Execution.MetadataBackend {
	case "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("execution: unknown metadata_backend %q (valid: redis, postgres)", c.Execution.MetadataBackend))
	}
	if c.Execution.SubmitRateLimit < 0 {
		errs = append(errs, "execution: submit_rate_limit must be >= 0")
	}
	if c.Execution.SubmitRateLimit > 0 && c.Execution.SubmitRateWindow.Duration <= 0 {
		errs = append(errs, "execution: submit_rate_window must be > 0 when submit_rate_limit is set")
	}

	if c.Metadata.DefaultCategory == "" {
		errs = append(errs, "metadata: default_category must not be empty")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if err := c.ValidateFees(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
