package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KALSHIEXEC_"

// Load merges the TOML file at path over Defaults, then applies .env and
// KALSHIEXEC_* overrides. An empty path skips the file. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envSetter collects override parse failures so a typo in one variable is
// reported instead of silently ignored.
type envSetter struct {
	errs []string
}

func (e *envSetter) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envSetter) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s%s=%q: %v", EnvPrefix, name, v, err))
}

func (e *envSetter) str(dst *string, name string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envSetter) int(dst *int, name string) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envSetter) bool(dst *bool, name string) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envSetter) duration(dst *duration, name string) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envSetter) list(dst *[]string, name string) {
	if v, ok := e.lookup(name); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) error {
	e := &envSetter{}

	e.str(&cfg.Kalshi.ApiKey, "KALSHI_API_KEY")
	e.str(&cfg.Kalshi.RsaPrivateKeyPath, "KALSHI_RSA_PRIVATE_KEY_PATH")
	e.str(&cfg.Kalshi.EncryptedKeyPath, "KALSHI_ENCRYPTED_KEY_PATH")
	e.str(&cfg.Kalshi.KeyPassword, "KALSHI_KEY_PASSWORD")
	e.str(&cfg.Kalshi.BaseURL, "KALSHI_BASE_URL")
	e.duration(&cfg.Kalshi.RequestTimeout, "KALSHI_REQUEST_TIMEOUT")

	e.str(&cfg.Postgres.DSN, "POSTGRES_DSN")
	e.str(&cfg.Postgres.Host, "POSTGRES_HOST")
	e.int(&cfg.Postgres.Port, "POSTGRES_PORT")
	e.str(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	e.str(&cfg.Postgres.User, "POSTGRES_USER")
	e.str(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	e.str(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	e.int(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	e.int(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	e.bool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	e.str(&cfg.Redis.Addr, "REDIS_ADDR")
	e.str(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.int(&cfg.Redis.DB, "REDIS_DB")
	e.int(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	e.int(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	e.bool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	e.int(&cfg.Redis.MetadataTTLMinutes, "REDIS_METADATA_TTL_MINUTES")

	e.str(&cfg.S3.Endpoint, "S3_ENDPOINT")
	e.str(&cfg.S3.Region, "S3_REGION")
	e.str(&cfg.S3.Bucket, "S3_BUCKET")
	e.str(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	e.str(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	e.bool(&cfg.S3.UseSSL, "S3_USE_SSL")
	e.bool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	e.duration(&cfg.Execution.DefaultTimeout, "EXECUTION_DEFAULT_TIMEOUT")
	e.duration(&cfg.Execution.MaxTimeout, "EXECUTION_MAX_TIMEOUT")
	e.int(&cfg.Execution.BatchConcurrency, "EXECUTION_BATCH_CONCURRENCY")
	e.str(&cfg.Execution.MetadataBackend, "EXECUTION_METADATA_BACKEND")
	e.duration(&cfg.Execution.LockTTL, "EXECUTION_LOCK_TTL")
	e.int(&cfg.Execution.SubmitRateLimit, "EXECUTION_SUBMIT_RATE_LIMIT")
	e.duration(&cfg.Execution.SubmitRateWindow, "EXECUTION_SUBMIT_RATE_WINDOW")
	e.duration(&cfg.Execution.DedupTTL, "EXECUTION_DEDUP_TTL")

	e.bool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	e.int(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	e.duration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	e.int(&cfg.Archive.BatchSize, "ARCHIVE_BATCH_SIZE")

	e.bool(&cfg.Server.Enabled, "SERVER_ENABLED")
	e.int(&cfg.Server.Port, "SERVER_PORT")
	e.list(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.str(&cfg.Server.APIKey, "SERVER_API_KEY")
	e.int(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	e.duration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	e.str(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	e.str(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	e.str(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	e.list(&cfg.Notify.Events, "NOTIFY_EVENTS")
	e.bool(&cfg.Notify.StreamEvents, "NOTIFY_STREAM_EVENTS")

	e.str(&cfg.Mode, "MODE")
	e.str(&cfg.LogLevel, "LOG_LEVEL")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: invalid environment overrides: %s", strings.Join(e.errs, "; "))
	}
	return nil
}
