package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Kalshi.ApiKey = "key-id"
	cfg.Kalshi.RsaPrivateKeyPath = "/keys/kalshi.pem"
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRequiresKalshiCredentialsToTrade(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key is required") {
		t.Fatalf("expected missing api key, got %v", err)
	}

	cfg.Mode = "archive"
	cfg.Archive.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("archive mode needs no exchange credentials: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "backtest"
	cfg.Postgres.PoolMaxConns = 0
	cfg.Execution.MetadataBackend = "memcached"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{`unknown mode "backtest"`, "pool_max_conns", `metadata_backend "memcached"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateLockOutlivesLongestExecution(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.MaxTimeout = duration{5 * time.Minute}
	cfg.Execution.LockTTL = duration{time.Minute}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "lock_ttl") {
		t.Fatalf("expected lock_ttl error, got %v", err)
	}

	cfg.Execution.LockTTL = duration{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled lock: %v", err)
	}
	cfg.Execution.LockTTL = duration{5 * time.Minute}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("equal ttl: %v", err)
	}
}

func TestValidateFeesMissingCoefficient(t *testing.T) {
	cfg := validConfig()
	cfg.Fees.General.MakerFeeCoefficient = nil

	var cfgErr *domain.ConfigurationError
	if err := cfg.ValidateFees(); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should include fee problems")
	}
}

func TestNeedsArchive(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	if cfg.NeedsArchive() {
		t.Fatal("full mode archives only when enabled")
	}
	cfg.Archive.Enabled = true
	if !cfg.NeedsArchive() {
		t.Fatal("full mode with archive enabled should archive")
	}
	cfg.Mode = "ARCHIVE"
	cfg.Archive.Enabled = false
	if !cfg.NeedsArchive() {
		t.Fatal("archive mode always archives")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "full"

[server]
port = 9100
rate_window = "2s"

[execution]
default_timeout = "20s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "full" || cfg.Server.Port != 9100 {
		t.Fatalf("file values not applied: mode=%s port=%d", cfg.Mode, cfg.Server.Port)
	}
	if cfg.Server.RateWindow.Duration != 2*time.Second || cfg.Execution.DefaultTimeout.Duration != 20*time.Second {
		t.Fatalf("durations: %s %s", cfg.Server.RateWindow, cfg.Execution.DefaultTimeout)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("default lost: redis addr %q", cfg.Redis.Addr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[server]
prot = 9100
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "server.prot") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KALSHIEXEC_KALSHI_API_KEY", "env-key")
	t.Setenv("KALSHIEXEC_SERVER_PORT", "9200")
	t.Setenv("KALSHIEXEC_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("KALSHIEXEC_EXECUTION_LOCK_TTL", "90s")
	t.Setenv("KALSHIEXEC_NOTIFY_STREAM_EVENTS", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Kalshi.ApiKey != "env-key" || cfg.Server.Port != 9200 {
		t.Fatalf("overrides not applied: %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Execution.LockTTL.Duration != 90*time.Second || cfg.Notify.StreamEvents {
		t.Fatalf("lock ttl %s stream %v", cfg.Execution.LockTTL, cfg.Notify.StreamEvents)
	}
}

func TestLoadEnvOverrideParseError(t *testing.T) {
	t.Setenv("KALSHIEXEC_SERVER_PORT", "eighty")
	t.Setenv("KALSHIEXEC_ARCHIVE_INTERVAL", "daily")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"KALSHIEXEC_SERVER_PORT", "KALSHIEXEC_ARCHIVE_INTERVAL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Server.APIKey = "api"

	r := cfg.Redacted()
	for name, v := range map[string]string{
		"kalshi api key": r.Kalshi.ApiKey,
		"key password":   r.Kalshi.KeyPassword,
		"postgres":       r.Postgres.Password,
		"telegram token": r.Notify.TelegramToken,
		"server api key": r.Server.APIKey,
	} {
		if v != "***" {
			t.Errorf("%s not redacted: %q", name, v)
		}
	}
	if r.Notify.DiscordWebhookURL != "" {
		t.Errorf("empty secret should stay empty, got %q", r.Notify.DiscordWebhookURL)
	}
	if cfg.Kalshi.ApiKey != "key-id" {
		t.Fatal("original config was modified")
	}

	r.Server.CORSOrigins[0] = "changed"
	r.Metadata.Stations["NY"] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" || cfg.Metadata.Stations["NY"] == "changed" {
		t.Fatal("redacted copy aliases the live config")
	}
}
