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
// built-in defaults, applies SNIPERD_* environment variable overrides, and
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Network ──
	setStr(&cfg.Network.ChainName, "SNIPERD_NETWORK_CHAIN_NAME")
	setInt64(&cfg.Network.ChainID, "SNIPERD_NETWORK_CHAIN_ID")
	setStr(&cfg.Network.RPCURL, "SNIPERD_NETWORK_RPC_URL")
	setStr(&cfg.Network.Currency, "SNIPERD_NETWORK_CURRENCY")
	setStr(&cfg.Network.WETHAddress, "SNIPERD_NETWORK_WETH_ADDRESS")
	setStr(&cfg.Network.ExecutionContract, "SNIPERD_NETWORK_EXECUTION_CONTRACT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SNIPERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SNIPERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNIPERD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SNIPERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SNIPERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SNIPERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPERD_REDIS_TLS_ENABLED")

	// ── Marketplaces ──
	setStr(&cfg.OpenSea.BaseURL, "SNIPERD_OPENSEA_BASE_URL")
	setStr(&cfg.OpenSea.APIKey, "SNIPERD_OPENSEA_API_KEY")
	setInt(&cfg.OpenSea.PageSize, "SNIPERD_OPENSEA_PAGE_SIZE")
	setStr(&cfg.Blur.BaseURL, "SNIPERD_BLUR_BASE_URL")
	setStr(&cfg.Blur.SessionToken, "SNIPERD_BLUR_SESSION_TOKEN")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "SNIPERD_FEED_WS_URL")
	setStr(&cfg.Feed.APIKey, "SNIPERD_FEED_API_KEY")
	setStringSlice(&cfg.Feed.Collections, "SNIPERD_FEED_COLLECTIONS")

	// ── Signer ──
	setStr(&cfg.Signer.BaseURL, "SNIPERD_SIGNER_BASE_URL")
	setStr(&cfg.Signer.APIKey, "SNIPERD_SIGNER_API_KEY")

	// ── Relay ──
	setStr(&cfg.Relay.URL, "SNIPERD_RELAY_URL")
	setInt(&cfg.Relay.BlockWindow, "SNIPERD_RELAY_BLOCK_WINDOW")
	setStr(&cfg.Relay.AuthKey, "SNIPERD_RELAY_AUTH_KEY")
	setStr(&cfg.Relay.EncryptedAuthKeyPath, "SNIPERD_RELAY_ENCRYPTED_AUTH_KEY_PATH")
	setStr(&cfg.Relay.AuthKeyPassword, "SNIPERD_RELAY_AUTH_KEY_PASSWORD")

	// ── Engine ──
	setInt(&cfg.Engine.MaxBatchTokens, "SNIPERD_ENGINE_MAX_BATCH_TOKENS")
	setStr(&cfg.Engine.MinProfitWei, "SNIPERD_ENGINE_MIN_PROFIT_WEI")
	setDuration(&cfg.Engine.RateLimitInterval, "SNIPERD_ENGINE_RATE_LIMIT_INTERVAL")

	// ── Reconciler ──
	setDuration(&cfg.Reconciler.Interval, "SNIPERD_RECONCILER_INTERVAL")
	setDuration(&cfg.Reconciler.SweepInterval, "SNIPERD_RECONCILER_SWEEP_INTERVAL")
	setDuration(&cfg.Reconciler.ArchiveAfter, "SNIPERD_RECONCILER_ARCHIVE_AFTER")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPERD_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPERD_MODE")
	setStr(&cfg.LogLevel, "SNIPERD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
