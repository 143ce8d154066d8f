// Package config defines the top-level configuration for the acquisition
// engine and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SNIPERD_* environment
// variables.
type Config struct {
	Network    NetworkConfig    `toml:"network"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	OpenSea    OpenSeaConfig    `toml:"opensea"`
	Blur       BlurConfig       `toml:"blur"`
	Feed       FeedConfig       `toml:"feed"`
	Signer     SignerConfig     `toml:"signer"`
	Relay      RelayConfig      `toml:"relay"`
	Engine     EngineConfig     `toml:"engine"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// NetworkConfig pins the engine to one chain and one settlement currency.
type NetworkConfig struct {
	ChainName string `toml:"chain_name"`
	ChainID   int64  `toml:"chain_id"`
	RPCURL    string `toml:"rpc_url"`
	// Currency is the settlement currency symbol listings must be priced in.
	Currency string `toml:"currency"`
	// WETHAddress is the wrapped settlement token queried for balances and
	// allowances.
	WETHAddress string `toml:"weth_address"`
	// ExecutionContract is the multicall contract purchases route through and
	// the spender checked for allowances.
	ExecutionContract string `toml:"execution_contract"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// OpenSeaConfig holds the order-book marketplace API parameters.
type OpenSeaConfig struct {
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	PageSize int      `toml:"page_size"`
	Timeout  duration `toml:"timeout"`
}

// BlurConfig holds the auction-house marketplace API parameters. Buys on this
// platform are built remotely and require a session token.
type BlurConfig struct {
	BaseURL      string   `toml:"base_url"`
	SessionToken string   `toml:"session_token"`
	Timeout      duration `toml:"timeout"`
}

// FeedConfig holds the listing feed subscription parameters.
type FeedConfig struct {
	WSURL       string   `toml:"ws_url"`
	APIKey      string   `toml:"api_key"`
	Collections []string `toml:"collections"`
}

// SignerConfig holds the external signing service parameters.
type SignerConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// RelayConfig holds private-relay parameters, the bundle retry window and the
// relay request-auth key.
type RelayConfig struct {
	URL string `toml:"url"`
	// BlockWindow is how many consecutive target blocks a bundle is
	// resubmitted against before the attempt is abandoned.
	BlockWindow int `toml:"block_window"`
	// AuthKey is the hex-encoded key that signs relay request headers.
	AuthKey string `toml:"auth_key"`
	// EncryptedAuthKeyPath points to an encrypted key file used when AuthKey
	// is not set directly.
	EncryptedAuthKeyPath string   `toml:"encrypted_auth_key_path"`
	AuthKeyPassword      string   `toml:"auth_key_password"`
	Timeout              duration `toml:"timeout"`
}

// EngineConfig holds matching and execution parameters.
type EngineConfig struct {
	// MaxBatchTokens caps how many tokens one aggregated purchase may carry.
	MaxBatchTokens int `toml:"max_batch_tokens"`
	// MinProfitWei is the minimum margin between an intent's price ceiling
	// and the batch cost, as a decimal wei string.
	MinProfitWei string `toml:"min_profit_wei"`
	// RateLimitInterval is the minimum spacing between outbound execution
	// calls, shared process-wide.
	RateLimitInterval duration `toml:"rate_limit_interval"`
}

// ReconcilerConfig holds reconciliation and status-sweep parameters.
type ReconcilerConfig struct {
	Interval      duration `toml:"interval"`
	SweepInterval duration `toml:"sweep_interval"`
	// ArchiveAfter is how long terminal attempts stay in Postgres before the
	// archiver exports them to S3. Zero disables archival.
	ArchiveAfter duration `toml:"archive_after"`
}

// S3Config holds S3-compatible object storage parameters for the attempt
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "30s" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns a Config pre-populated with safe defaults. Load merges the
// TOML file and environment on top of this.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			ChainName: "ethereum",
			ChainID:   1,
			Currency:  "ETH",
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		OpenSea: OpenSeaConfig{
			BaseURL:  "https://api.opensea.io",
			PageSize: 50,
			Timeout:  duration{15 * time.Second},
		},
		Blur: BlurConfig{
			BaseURL: "https://api.blur.io",
			Timeout: duration{15 * time.Second},
		},
		Signer: SignerConfig{
			Timeout: duration{10 * time.Second},
		},
		Relay: RelayConfig{
			URL:         "https://relay.flashbots.net",
			BlockWindow: 15,
			Timeout:     duration{30 * time.Second},
		},
		Engine: EngineConfig{
			MaxBatchTokens:    20,
			MinProfitWei:      "1000000000000000", // 0.001 ETH
			RateLimitInterval: duration{200 * time.Millisecond},
		},
		Reconciler: ReconcilerConfig{
			Interval:      duration{15 * time.Second},
			SweepInterval: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// MinProfit parses Engine.MinProfitWei into a big.Int. Validate guarantees
// the string parses, so callers after validation may ignore the error.
func (c *Config) MinProfit() (*big.Int, error) {
	v, ok := new(big.Int).SetString(c.Engine.MinProfitWei, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid min_profit_wei %q", c.Engine.MinProfitWei)
	}
	return v, nil
}

// Validate checks that the configuration is complete enough for the
// configured mode to start.
func (c *Config) Validate() error {
	switch c.Mode {
	case "engine", "reconcile", "full":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	if c.Network.RPCURL == "" {
		return fmt.Errorf("config: network.rpc_url is required")
	}
	if c.Network.ChainName == "" || c.Network.Currency == "" {
		return fmt.Errorf("config: network.chain_name and network.currency are required")
	}
	if !isHexAddress(c.Network.WETHAddress) {
		return fmt.Errorf("config: network.weth_address %q is not a valid address", c.Network.WETHAddress)
	}
	if !isHexAddress(c.Network.ExecutionContract) {
		return fmt.Errorf("config: network.execution_contract %q is not a valid address", c.Network.ExecutionContract)
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres requires dsn or host/database/user")
	}

	if _, err := c.MinProfit(); err != nil {
		return err
	}
	if c.Engine.MaxBatchTokens <= 0 {
		return fmt.Errorf("config: engine.max_batch_tokens must be positive")
	}
	if c.Relay.BlockWindow <= 0 {
		return fmt.Errorf("config: relay.block_window must be positive")
	}
	if c.Mode != "reconcile" {
		if c.Feed.WSURL == "" {
			return fmt.Errorf("config: feed.ws_url is required in mode %q", c.Mode)
		}
		if c.Signer.BaseURL == "" {
			return fmt.Errorf("config: signer.base_url is required in mode %q", c.Mode)
		}
		if c.Relay.AuthKey == "" && c.Relay.EncryptedAuthKeyPath == "" {
			return fmt.Errorf("config: relay.auth_key or relay.encrypted_auth_key_path is required in mode %q", c.Mode)
		}
	}

	return nil
}

func isHexAddress(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
