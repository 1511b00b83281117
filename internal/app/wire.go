package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/orcbet/internal/blob/s3"
	"github.com/alanyoungcy/orcbet/internal/cache/redis"
	"github.com/alanyoungcy/orcbet/internal/config"
	"github.com/alanyoungcy/orcbet/internal/crypto"
	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/notify"
	"github.com/alanyoungcy/orcbet/internal/oracle"
	"github.com/alanyoungcy/orcbet/internal/store/postgres"
	"github.com/alanyoungcy/orcbet/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// needs to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	PoolStore  domain.PoolStore
	EventStore domain.EventStore

	// Redis
	PoolCache   domain.PoolCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Engine collaborators
	Token  domain.ValueTransferrer
	Oracle domain.PriceOracle

	// ManualOracle is set only in manual oracle mode, for the admin endpoint.
	ManualOracle *oracle.Manual

	// Blob storage (nil when S3 is disabled)
	BlobReader domain.BlobReader
	Archiver   domain.SettlementArchiver

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)

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
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PoolCache = redis.NewPoolCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Value transfer ---
	switch cfg.Eth.Mode {
	case "erc20":
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Eth.TreasuryKey,
			EncryptedKeyPath: cfg.Eth.EncryptedKeyPath,
			KeyPassword:      cfg.Eth.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury key: %w", err)
		}
		erc20, err := token.NewERC20(ctx, token.ERC20Config{
			RPCURL:         cfg.Eth.RPCURL,
			TokenAddress:   common.HexToAddress(cfg.Eth.TokenAddress),
			TreasuryKeyHex: keyHex,
			ChainID:        cfg.Eth.ChainID,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: erc20 transferrer: %w", err)
		}
		deps.Token = erc20
	case "memory":
		deps.Token = token.NewMemoryBank()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown eth mode %q", cfg.Eth.Mode)
	}

	// --- Price oracle ---
	switch cfg.Oracle.Mode {
	case "chainlink":
		cl, err := oracle.NewChainlink(ctx, cfg.Eth.RPCURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chainlink oracle: %w", err)
		}
		deps.Oracle = cl
	case "manual":
		manual := oracle.NewManual()
		deps.Oracle = manual
		deps.ManualOracle = manual
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown oracle mode %q", cfg.Oracle.Mode)
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
