package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/truthledger/internal/blob/s3"
	"github.com/alanyoungcy/truthledger/internal/cache/redis"
	"github.com/alanyoungcy/truthledger/internal/config"
	"github.com/alanyoungcy/truthledger/internal/crypto"
	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
	"github.com/alanyoungcy/truthledger/internal/metrics"
	"github.com/alanyoungcy/truthledger/internal/notify"
	"github.com/alanyoungcy/truthledger/internal/queue/kafka"
	"github.com/alanyoungcy/truthledger/internal/server/handler"
	"github.com/alanyoungcy/truthledger/internal/store/memory"
	"github.com/alanyoungcy/truthledger/internal/store/postgres"
)

// Dependencies bundles every concrete dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Ledger
	Authority string
	Signer    *crypto.AuthoritySigner // nil without a configured key
	Ledger    domain.LedgerStore
	Accounts  domain.AccountStore
	Audit     domain.AuditStore

	// Caches and bus; no-op or in-process stand-ins when Redis is off.
	MappingCache domain.MappingCache
	OddsCache    domain.OddsCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Optional sinks; nil when disabled.
	EventLog   *kafka.Publisher
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Notifier   *notify.Notifier
	Metrics    *metrics.Metrics

	HealthChecks []handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Authority ---
	authority, signer, err := resolveAuthority(cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: authority: %w", err))
	}
	deps.Authority, deps.Signer = authority, signer
	if signer != nil {
		logger.InfoContext(ctx, "authority key loaded", slog.String("address", signer.Address()))
	}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		store := memory.NewStore()
		deps.Ledger = store
		deps.Accounts = store
		deps.Audit = memory.NewAuditLog()
		logger.WarnContext(ctx, "using in-memory ledger store; state is lost on exit")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks = append(deps.HealthChecks, handler.HealthCheck{Name: "postgres", Probe: pgClient.Ping})
	}

	// --- Redis (optional; falls back to no-op caches) ---
	deps.MappingCache = redis.NopCache{}
	deps.OddsCache = redis.NopCache{}
	deps.RateLimiter = redis.NopCache{}
	deps.LockManager = redis.NopCache{}
	deps.SignalBus = memory.NewBus()
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, running with no-op caches and an in-process bus",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			deps.MappingCache = redis.NewMappingCache(redisClient, cfg.Cache.MappingTTL.Duration)
			deps.OddsCache = redis.NewOddsCache(redisClient, cfg.Cache.OddsTTL.Duration)
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
			deps.LockManager = redis.NewLockManager(redisClient)
			deps.SignalBus = redis.NewSignalBus(redisClient)
			deps.HealthChecks = append(deps.HealthChecks, handler.HealthCheck{Name: "redis", Probe: redisClient.Ping})
		}
	}

	// --- Kafka event log ---
	if cfg.Kafka.Enabled {
		pub := kafka.NewPublisher(kafka.NewWriter(kafka.Config{
			Brokers:      kafka.ParseBrokers(strings.Join(cfg.Kafka.Brokers, ",")),
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		}))
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka close failed", slog.String("error", err.Error()))
			}
		})
		deps.EventLog = pub
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks = append(deps.HealthChecks, handler.HealthCheck{Name: "s3", Probe: s3Client.Health})
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// resolveAuthority loads the optional signing key and reconciles it with
// ledger.authority.
func resolveAuthority(cfg *config.Config) (string, *crypto.AuthoritySigner, error) {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Authority.PrivateKey,
		EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
		KeyPassword:      cfg.Authority.KeyPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoKey):
		if cfg.Ledger.Authority == "" {
			return "", nil, errors.New("no ledger.authority and no authority key")
		}
		return cfg.Ledger.Authority, nil, nil
	case err != nil:
		return "", nil, err
	}

	if cfg.Ledger.Authority != "" && !ledger.SamePrincipal(cfg.Ledger.Authority, signer.Address()) {
		return "", nil, fmt.Errorf("ledger.authority %s does not match the authority key address %s",
			cfg.Ledger.Authority, signer.Address())
	}
	return signer.Address(), signer, nil
}
