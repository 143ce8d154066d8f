package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftsniper/internal/aggregator"
	s3blob "github.com/alanyoungcy/nftsniper/internal/blob/s3"
	"github.com/alanyoungcy/nftsniper/internal/cache/redis"
	"github.com/alanyoungcy/nftsniper/internal/chain"
	"github.com/alanyoungcy/nftsniper/internal/config"
	"github.com/alanyoungcy/nftsniper/internal/crypto"
	"github.com/alanyoungcy/nftsniper/internal/domain"
	"github.com/alanyoungcy/nftsniper/internal/engine"
	"github.com/alanyoungcy/nftsniper/internal/executor"
	"github.com/alanyoungcy/nftsniper/internal/feed"
	"github.com/alanyoungcy/nftsniper/internal/notify"
	"github.com/alanyoungcy/nftsniper/internal/platform/blur"
	"github.com/alanyoungcy/nftsniper/internal/platform/opensea"
	"github.com/alanyoungcy/nftsniper/internal/reconciler"
	"github.com/alanyoungcy/nftsniper/internal/relay"
	"github.com/alanyoungcy/nftsniper/internal/signing"
	"github.com/alanyoungcy/nftsniper/internal/store/postgres"
)

// fulfillmentTTL bounds how long resolved marketplace calldata is reused. A
// listing can be filled or cancelled at any moment, so entries go stale fast.
const fulfillmentTTL = time.Minute

// Dependencies bundles every component the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	IntentStore     domain.IntentStore
	AttemptStore    domain.AttemptStore
	ItemStore       domain.ItemStore
	CollectionStore domain.CollectionStore
	WalletStore     domain.WalletStore

	// Caches
	RateLimiter      domain.RateLimiter
	FulfillmentCache domain.FulfillmentCache

	// Chain access
	Chain *chain.Reader
	Funds *chain.BalanceGuard

	// Matching and execution
	Engine   *engine.Engine
	Pipeline *executor.Pipeline
	Feed     *feed.ListingFeed

	// Reconciliation
	Reconciler *reconciler.Reconciler
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsExecution returns true for modes that match listings and submit
// bundles, and therefore need the feed, the marketplaces, the signer and the
// relay.
func needsExecution(mode string) bool {
	switch mode {
	case "engine", "full":
		return true
	default:
		return false
	}
}

// needsReconcile returns true for modes that run the reconciliation and sweep
// loops.
func needsReconcile(mode string) bool {
	switch mode {
	case "reconcile", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

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
	deps.IntentStore = postgres.NewIntentStore(pool)
	deps.AttemptStore = postgres.NewAttemptStore(pool)
	deps.ItemStore = postgres.NewItemStore(pool)
	deps.CollectionStore = postgres.NewCollectionStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)

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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.FulfillmentCache = redis.NewFulfillmentCache(redisClient, fulfillmentTTL)

	// --- Chain ---
	ethClient, err := chain.Dial(ctx, cfg.Network.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, ethClient.Close)

	executionContract := common.HexToAddress(cfg.Network.ExecutionContract)
	wethAddress := common.HexToAddress(cfg.Network.WETHAddress)
	deps.Chain = chain.NewReader(ethClient, executionContract)
	deps.Funds = chain.NewBalanceGuard(ethClient, wethAddress, executionContract)

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

	// --- Matching and execution ---
	if needsExecution(mode) {
		authKey, err := crypto.LoadECDSAKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Relay.AuthKey,
			EncryptedKeyPath: cfg.Relay.EncryptedAuthKeyPath,
			KeyPassword:      cfg.Relay.AuthKeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: relay auth key: %w", err)
		}

		osClient := opensea.NewClient(
			cfg.OpenSea.BaseURL,
			cfg.OpenSea.APIKey,
			strings.ToLower(cfg.Network.ChainName),
			cfg.OpenSea.PageSize,
			cfg.OpenSea.Timeout.Duration,
		)
		blurClient := blur.NewClient(cfg.Blur.BaseURL, cfg.Blur.Timeout.Duration)

		agg := aggregator.New(
			osClient,
			blurClient,
			deps.FulfillmentCache,
			executionContract,
			cfg.Blur.SessionToken,
			cfg.Engine.MaxBatchTokens,
			logger,
		)

		signerClient := signing.NewClient(cfg.Signer.BaseURL, cfg.Signer.APIKey, cfg.Signer.Timeout.Duration)
		relayClient := relay.NewClient(cfg.Relay.URL, authKey, deps.Chain, cfg.Relay.Timeout.Duration)

		minProfit, err := cfg.MinProfit()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Pipeline = executor.New(
			agg,
			signerClient,
			relayClient,
			deps.Chain,
			deps.Funds,
			deps.AttemptStore,
			deps.RateLimiter,
			executor.Config{
				ChainID:           cfg.Network.ChainID,
				WETHAddress:       wethAddress,
				ExecutionContract: executionContract,
				MinProfitWei:      minProfit,
				BlockWindow:       cfg.Relay.BlockWindow,
				RateLimitInterval: cfg.Engine.RateLimitInterval.Duration,
			},
			logger,
		)

		deps.Engine = engine.New(
			deps.IntentStore,
			deps.AttemptStore,
			deps.ItemStore,
			deps.CollectionStore,
			deps.WalletStore,
			deps.Funds,
			deps.Pipeline,
			engine.Config{
				Chain:    cfg.Network.ChainName,
				Currency: cfg.Network.Currency,
			},
			logger,
		)

		deps.Feed = feed.NewListingFeed(
			cfg.Feed.WSURL,
			cfg.Feed.APIKey,
			cfg.Feed.Collections,
			deps.Engine.OnListingEvent,
			logger,
		)
	}

	// --- Reconciliation ---
	if needsReconcile(mode) {
		if cfg.S3.Bucket != "" && cfg.Reconciler.ArchiveAfter.Duration > 0 {
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

			deps.Archiver = s3blob.NewAttemptArchiver(s3blob.NewWriter(s3Client), deps.AttemptStore)
		}

		deps.Reconciler = reconciler.New(
			deps.IntentStore,
			deps.AttemptStore,
			deps.WalletStore,
			deps.Chain,
			deps.Funds,
			deps.Archiver,
			deps.Notifier,
			reconciler.Config{
				Interval:      cfg.Reconciler.Interval.Duration,
				SweepInterval: cfg.Reconciler.SweepInterval.Duration,
				ArchiveAfter:  cfg.Reconciler.ArchiveAfter.Duration,
			},
			logger,
		)
	}

	return deps, cleanup, nil
}
