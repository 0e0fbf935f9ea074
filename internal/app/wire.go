package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/mahrens917/common-sub001/internal/blob/s3"
	"github.com/mahrens917/common-sub001/internal/cache/redis"
	"github.com/mahrens917/common-sub001/internal/config"
	"github.com/mahrens917/common-sub001/internal/crypto"
	"github.com/mahrens917/common-sub001/internal/domain"
	"github.com/mahrens917/common-sub001/internal/fees"
	"github.com/mahrens917/common-sub001/internal/metadata"
	"github.com/mahrens917/common-sub001/internal/notify"
	"github.com/mahrens917/common-sub001/internal/platform/kalshi"
	"github.com/mahrens917/common-sub001/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	TradeStore    *postgres.TradeStore
	MetadataStore domain.OrderMetadataStore
	AuditStore    *postgres.AuditStore

	// Coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Exchange side; nil in archive mode.
	Exchange domain.Exchange
	Fees     *fees.Calculator
	Resolver *metadata.Resolver

	// Archive side; nil unless the mode archives.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Checks map[string]func(context.Context) error
}

// needsExchange reports whether mode places orders.
func needsExchange(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases resources in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Checks: make(map[string]func(context.Context) error)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	pgMetadata := postgres.NewOrderMetadataStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))

	switch cfg.Execution.MetadataBackend {
	case "redis":
		ttl := time.Duration(cfg.Redis.MetadataTTLMinutes) * time.Minute
		deps.MetadataStore = redis.NewMetadataStore(redisClient, ttl, pgMetadata, logger)
	default:
		deps.MetadataStore = pgMetadata
	}

	// --- Exchange, fees and market metadata ---
	if needsExchange(mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			PEMPath:          cfg.Kalshi.RsaPrivateKeyPath,
			EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
			KeyPassword:      cfg.Kalshi.KeyPassword,
		})
		if err != nil {
			return fail("kalshi key", err)
		}
		signer, err := crypto.NewSigner(cfg.Kalshi.ApiKey, key)
		if err != nil {
			return fail("kalshi signer", err)
		}
		client, err := kalshi.NewClient(cfg.Kalshi.BaseURL, signer, cfg.Kalshi.RequestTimeout.Duration, logger)
		if err != nil {
			return fail("kalshi client", err)
		}
		deps.Exchange = client

		deps.Fees, err = fees.NewCalculator(cfg.FeeSchedule())
		if err != nil {
			return fail("fees", err)
		}
		deps.Resolver, err = metadata.NewResolver(cfg.MetadataRules())
		if err != nil {
			return fail("metadata", err)
		}
	}

	// --- S3 archive ---
	if cfg.NeedsArchive() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.TradeStore,
			deps.AuditStore,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.StreamEvents {
		senders = append(senders, notify.NewBusSender(deps.SignalBus))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("mode", mode),
		slog.String("metadata_backend", cfg.Execution.MetadataBackend),
		slog.Int("notify_senders", len(senders)),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return deps, cleanup, nil
}
